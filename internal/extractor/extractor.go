// Package extractor wraps the external frame-extraction utility. The
// pipeline treats extraction as an opaque call that fills a directory
// with zero-padded sequential JPEG frames and reports how many were
// written.
package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extractor converts a video file into an ordered sequence of JPEG
// frames under outputDir, returning the number of frames written.
type Extractor interface {
	Extract(ctx context.Context, videoPath, outputDir string, quality int) (int, error)
}

// FramePattern is the frame filename format: five digit zero-padded
// index starting at zero.
const FramePattern = "%05d.jpg"

// ListFrames returns the sorted JPEG frame filenames in dir
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory: %w", err)
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext == ".jpg" || ext == ".jpeg" {
			frames = append(frames, name)
		}
	}

	sort.Strings(frames)
	return frames, nil
}
