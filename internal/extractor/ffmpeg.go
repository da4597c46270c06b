package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// FFmpegExtractor shells out to ffmpeg to split a video into frames
type FFmpegExtractor struct {
	binaryPath string
	logger     hclog.Logger
}

// NewFFmpegExtractor creates an extractor using the given ffmpeg binary
func NewFFmpegExtractor(binaryPath string, logger hclog.Logger) *FFmpegExtractor {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &FFmpegExtractor{
		binaryPath: binaryPath,
		logger:     logger.Named("ffmpeg-extractor"),
	}
}

// Extract runs ffmpeg and returns the number of frames written.
// Frames are numbered from zero to match the index coordinate used by
// the segmentation engine.
func (e *FFmpegExtractor) Extract(ctx context.Context, videoPath, outputDir string, quality int) (int, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return 0, fmt.Errorf("video file not accessible: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create frames directory: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-q:v", fmt.Sprintf("%d", qscaleFromQuality(quality)),
		"-start_number", "0",
		filepath.Join(outputDir, FramePattern),
	}

	e.logger.Debug("running frame extraction", "video", videoPath, "output", outputDir)

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return 0, fmt.Errorf("ffmpeg failed: %s", msg)
		}
		return 0, fmt.Errorf("ffmpeg failed: %w", err)
	}

	frames, err := ListFrames(outputDir)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("ffmpeg produced no frames for %s", videoPath)
	}

	e.logger.Info("frame extraction completed", "video", videoPath, "frames", len(frames))
	return len(frames), nil
}

// qscaleFromQuality maps a 1-100 JPEG quality to ffmpeg's 2-31 qscale
// range, where 2 is the best quality.
func qscaleFromQuality(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return 2 + (100-quality)*29/99
}
