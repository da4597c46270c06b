package trackingmodule

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/videoseg/masktrace/internal/extractor"
)

// archiveFrameLimit caps how many extracted frames ship in the archive
const archiveFrameLimit = 10

// Packager assembles the downloadable result archive for a completed
// session.
type Packager struct {
	logger hclog.Logger
}

// NewPackager creates a result packager
func NewPackager(logger hclog.Logger) *Packager {
	return &Packager{logger: logger.Named("packager")}
}

// BuildArchive writes the result archive for a completed session and
// returns its path. Sessions that have not completed tracking get
// ErrNotReady; the caller decides how to surface that.
func (p *Packager) BuildArchive(view SessionView) (string, error) {
	if view.Status != StageCompleted {
		return "", fmt.Errorf("%w: session is %s", ErrNotReady, view.Status)
	}

	archivePath := filepath.Join(view.SessionDir, fmt.Sprintf("tracking_results_%s.zip", view.ID))

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	if err := p.addFrames(zw, view); err != nil {
		zw.Close()
		return "", err
	}
	if err := p.addResults(zw, view); err != nil {
		zw.Close()
		return "", err
	}
	if err := p.addManifest(zw, view); err != nil {
		zw.Close()
		return "", err
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	p.logger.Info("result archive built", "session_id", view.ID, "path", archivePath)
	return archivePath, nil
}

// addFrames packs a bounded sample of extracted frames
func (p *Packager) addFrames(zw *zip.Writer, view SessionView) error {
	frames := view.FrameList
	if len(frames) == 0 && view.FramesDir != "" {
		listed, err := extractor.ListFrames(view.FramesDir)
		if err != nil {
			return err
		}
		frames = listed
	}

	limit := len(frames)
	if limit > archiveFrameLimit {
		limit = archiveFrameLimit
	}

	for _, name := range frames[:limit] {
		src := filepath.Join(view.FramesDir, name)
		if err := addFileToArchive(zw, src, "frames/"+name); err != nil {
			return err
		}
	}
	return nil
}

// addResults packs everything the tracking stage wrote
func (p *Packager) addResults(zw *zip.Writer, view SessionView) error {
	if view.ResultDir == "" {
		return nil
	}

	entries, err := os.ReadDir(view.ResultDir)
	if err != nil {
		return fmt.Errorf("failed to read result directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(view.ResultDir, entry.Name())
		if err := addFileToArchive(zw, src, "results/"+entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

// addManifest writes the human-readable archive description
func (p *Packager) addManifest(zw *zip.Writer, view SessionView) error {
	w, err := zw.Create("README.txt")
	if err != nil {
		return err
	}

	summary := view.Summary
	fmt.Fprintf(w, "Video Object Tracking Results\n")
	fmt.Fprintf(w, "=============================\n\n")
	fmt.Fprintf(w, "Session:   %s\n", view.ID)
	fmt.Fprintf(w, "Video:     %s\n", view.Filename)
	fmt.Fprintf(w, "Generated: %s\n\n", time.Now().Format(time.RFC3339))

	if len(view.Points) > 0 {
		fmt.Fprintf(w, "Seed points:\n")
		for _, p := range view.Points {
			fmt.Fprintf(w, "  (%.1f, %.1f) label=%d\n", p.X, p.Y, p.Label)
		}
		fmt.Fprintf(w, "\n")
	}

	if summary != nil {
		fmt.Fprintf(w, "Model size:       %s\n", summary.ModelSize)
		fmt.Fprintf(w, "Total frames:     %d\n", summary.TotalFrames)
		fmt.Fprintf(w, "Processed frames: %d\n", summary.ProcessedFrames)
		fmt.Fprintf(w, "Objects detected: %d\n", len(summary.ObjectsDetected))
		fmt.Fprintf(w, "Processing time:  %s\n", summary.ProcessingTime)
		fmt.Fprintf(w, "Frames/second:    %.2f\n\n", summary.FramesPerSecond)
	}

	fmt.Fprintf(w, "Contents\n")
	fmt.Fprintf(w, "--------\n")
	fmt.Fprintf(w, "frames/   sample of extracted video frames (up to %d)\n", archiveFrameLimit)
	fmt.Fprintf(w, "results/  mask images and %s\n", analysisResultFile)
	return nil
}

func addFileToArchive(zw *zip.Writer, srcPath, archiveName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := zw.Create(archiveName)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to archive %s: %w", archiveName, err)
	}
	return nil
}
