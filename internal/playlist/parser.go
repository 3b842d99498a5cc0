// Package playlist parses HLS master and media playlists and selects the
// rendition the downloader should record.
package playlist

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"chzzkrecd/internal/config"
	"chzzkrecd/internal/models"
)

// ParseMaster walks an HLS master playlist and returns its variants. A
// document with no #EXT-X-STREAM-INF tags (i.e. a media playlist) yields
// an empty slice, not an error.
func ParseMaster(text, baseURL string) ([]models.Variant, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("playlist: invalid base URL %q: %w", baseURL, err)
	}

	var variants []models.Variant
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

		height := -1
		if res, ok := attrs["RESOLUTION"]; ok {
			if _, h, ok := splitResolution(res); ok {
				height = h
			}
		}
		bandwidth := -1
		if bw, ok := attrs["BANDWIDTH"]; ok {
			if n, err := strconv.Atoi(bw); err == nil {
				bandwidth = n
			}
		}
		frameRate := 0.0
		if fr, ok := attrs["FRAME-RATE"]; ok {
			if f, err := strconv.ParseFloat(fr, 64); err == nil {
				frameRate = f
			}
		}

		// The next non-comment, non-blank line is the variant URI.
		uri := ""
		for j := i + 1; j < len(lines); j++ {
			candidate := strings.TrimSpace(lines[j])
			if candidate == "" || strings.HasPrefix(candidate, "#") {
				continue
			}
			uri = candidate
			i = j
			break
		}
		if uri == "" {
			continue
		}

		resolved, err := base.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("playlist: resolve variant URI %q: %w", uri, err)
		}

		variants = append(variants, models.Variant{
			URL:       resolved.String(),
			Height:    height,
			FrameRate: frameRate,
			Bandwidth: bandwidth,
		})
	}

	return variants, nil
}

// ParseMedia collects the media sequence number (if present) and the
// ordered list of segment URIs from an HLS media playlist.
func ParseMedia(text string) (mediaSequence *int, segments []string, err error) {
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:") {
			n, perr := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
			if perr != nil {
				return nil, nil, fmt.Errorf("playlist: bad media sequence %q: %w", line, perr)
			}
			mediaSequence = &n
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, line)
	}
	return mediaSequence, segments, nil
}

// SelectVariant applies the configured quality preference to a variant
// list. ok is false when variants is empty.
func SelectVariant(variants []models.Variant, quality config.Quality) (models.Variant, bool) {
	if len(variants) == 0 {
		return models.Variant{}, false
	}

	if quality == config.QualityPrefer1080 {
		if v, ok := smallestAtLeast1080(variants); ok {
			return v, true
		}
	}

	return best(variants), true
}

// best returns the variant maximizing (height, frameRate, bandwidth).
func best(variants []models.Variant) models.Variant {
	winner := variants[0]
	for _, v := range variants[1:] {
		if betterTuple(v, winner) {
			winner = v
		}
	}
	return winner
}

func smallestAtLeast1080(variants []models.Variant) (models.Variant, bool) {
	var found models.Variant
	ok := false
	for _, v := range variants {
		if v.Height < 1080 {
			continue
		}
		if !ok || betterTuple(found, v) {
			found = v
			ok = true
		}
	}
	return found, ok
}

// betterTuple reports whether a is the larger of (height, frameRate,
// bandwidth) when used to find the smallest qualifying variant; callers
// invert the comparison as needed via argument order.
func betterTuple(a, b models.Variant) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if a.FrameRate != b.FrameRate {
		return a.FrameRate > b.FrameRate
	}
	return a.Bandwidth > b.Bandwidth
}

// parseAttributes splits a comma-separated ATTR=VALUE list, tolerating
// quoted values that themselves contain commas.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	var field strings.Builder
	inQuotes := false

	flush := func() {
		part := field.String()
		field.Reset()
		if part == "" {
			return
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		attrs[key] = val
	}

	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			field.WriteRune(r)
		case ',':
			if inQuotes {
				field.WriteRune(r)
			} else {
				flush()
			}
		default:
			field.WriteRune(r)
		}
	}
	flush()

	return attrs
}

// splitResolution parses "WxH" into (width, height).
func splitResolution(s string) (width, height int, ok bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}
