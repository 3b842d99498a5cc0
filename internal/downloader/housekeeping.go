package downloader

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"chzzkrecd/internal/config"
)

// runHousekeeping applies onStartPrevious to a streamer's output directory
// before a new recording opens its file there. A missing directory is not
// an error: there is nothing to archive or delete yet.
func runHousekeeping(cfg config.Config, channelDir, sanitizedChannel string) error {
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	switch cfg.OnStartPrevious {
	case config.PolicyKeep, "":
		return nil
	case config.PolicyDelete:
		return deleteEntries(channelDir, entries)
	case config.PolicyArchive:
		return archiveEntries(cfg, channelDir, sanitizedChannel, entries)
	default:
		return nil
	}
}

func deleteEntries(channelDir string, entries []os.DirEntry) error {
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(channelDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func archiveEntries(cfg config.Config, channelDir, sanitizedChannel string, entries []os.DirEntry) error {
	dest := filepath.Join(cfg.ArchiveDir, sanitizedChannel, time.Now().Format("20060102_150405"))

	var toMove []os.DirEntry
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			toMove = append(toMove, e)
		}
	}
	if len(toMove) == 0 {
		return nil
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, e := range toMove {
		src := filepath.Join(channelDir, e.Name())
		if err := os.Rename(src, filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
