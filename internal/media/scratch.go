package media

import (
	"log/slog"
	"os"
	"path/filepath"
)

// CleanupScratch removes every scratch artifact a job's stages may have
// produced, whatever extension they ended up with. Safe to call more
// than once for the same recording.
func CleanupScratch(scratchDir, recordingID string, log *slog.Logger) {
	patterns := []string{
		recordingID + "_input*",
		recordingID + "_audio*",
	}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(scratchDir, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				log.Warn("failed to clean up scratch file",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			log.Info("cleaned up scratch file", slog.String("path", path))
		}
	}
}
