package trackingmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/videoseg/masktrace/internal/extractor"
	"github.com/videoseg/masktrace/internal/segmentation"
)

// EngineFactory opens a segmentation engine for the given model size.
// The returned shutdown function releases the engine and, for plugin
// engines, kills the plugin process.
type EngineFactory func(model string) (segmentation.Engine, func(), error)

// seedObjectID is the object identifier used for the seed point set.
// All submitted points describe a single tracked object.
const seedObjectID = 1

// maskArtifactFrames caps how many frames get mask images written to
// the result directory.
const maskArtifactFrames = 10

// analysisResultFile is the summary filename inside the result directory
const analysisResultFile = "analysis_result.json"

// Pipeline binds the stage bodies to their dependencies and launches
// them through the runner.
type Pipeline struct {
	runner    *StageRunner
	extract   extractor.Extractor
	engines   EngineFactory
	logger    hclog.Logger
	jpegQual  int
	extractTO time.Duration
	callTO    time.Duration
}

// NewPipeline wires the stage bodies to the runner and its dependencies
func NewPipeline(runner *StageRunner, ext extractor.Extractor, engines EngineFactory, logger hclog.Logger, jpegQuality int, extractTimeout, callTimeout time.Duration) *Pipeline {
	return &Pipeline{
		runner:    runner,
		extract:   ext,
		engines:   engines,
		logger:    logger.Named("pipeline"),
		jpegQual:  jpegQuality,
		extractTO: extractTimeout,
		callTO:    callTimeout,
	}
}

// StartExtraction launches frame extraction for the session. A false
// return with nil error means extraction is already running or done.
func (p *Pipeline) StartExtraction(session *Session) (bool, error) {
	return p.runner.Launch(session, StageExtracting, StageUploaded, StageFramesReady,
		"starting frame extraction",
		func(ctx context.Context, task *stageTask) error {
			return p.runExtraction(ctx, task, session)
		})
}

func (p *Pipeline) runExtraction(ctx context.Context, task *stageTask, session *Session) error {
	view := session.Snapshot()
	framesDir := filepath.Join(view.SessionDir, "frames")

	task.Progress(10, "preparing frame directory")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create frames directory: %w", err)
	}

	task.Progress(20, "extracting frames from video")

	extractCtx := ctx
	if p.extractTO > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, p.extractTO)
		defer cancel()
	}

	count, err := p.extract.Extract(extractCtx, view.VideoPath, framesDir, p.jpegQual)
	if err != nil {
		return fmt.Errorf("frame extraction failed: %w", err)
	}

	task.Progress(80, "indexing extracted frames")

	frames, err := extractor.ListFrames(framesDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("extraction produced no frames from %s", view.Filename)
	}

	p.logger.Info("extraction finished",
		"session_id", session.ID(),
		"frame_count", len(frames))

	task.Complete(StageFramesReady, fmt.Sprintf("extracted %d frames", count), func(s *Session) {
		s.framesDir = framesDir
		s.frameList = frames
	})
	return nil
}

// StartTracking launches mask propagation for the session using the
// given model size. A false return with nil error means tracking is
// already running or done.
func (p *Pipeline) StartTracking(session *Session, modelSize string) (bool, error) {
	if _, _, err := segmentation.ResolveModel(modelSize); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return p.runner.Launch(session, StageTracking, StagePointsSelected, StageCompleted,
		"starting object tracking",
		func(ctx context.Context, task *stageTask) error {
			return p.runTracking(ctx, task, session, modelSize)
		})
}

func (p *Pipeline) runTracking(ctx context.Context, task *stageTask, session *Session, modelSize string) error {
	started := time.Now()
	view := session.Snapshot()

	resultDir := filepath.Join(view.SessionDir, "results")
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}

	task.Progress(10, "loading "+modelSize+" model")

	engine, shutdown, err := p.engines(modelSize)
	if err != nil {
		return err
	}
	defer shutdown()

	initCtx, cancelInit := p.callContext(ctx)
	state, err := engine.Init(initCtx, view.FramesDir)
	cancelInit()
	if err != nil {
		return fmt.Errorf("failed to initialize analysis state: %w", err)
	}
	defer state.Close()

	task.Progress(30, "analysis state initialized")

	points := make([]segmentation.Point, len(view.Points))
	labels := make([]int, len(view.Points))
	for i, pt := range view.Points {
		points[i] = segmentation.Point{X: pt.X, Y: pt.Y}
		labels[i] = pt.Label
	}

	annCtx, cancelAnn := p.callContext(ctx)
	_, err = state.Annotate(annCtx, 0, seedObjectID, points, labels)
	cancelAnn()
	if err != nil {
		return fmt.Errorf("failed to annotate seed points: %w", err)
	}

	task.Progress(50, "tracking object across frames")

	propagation, err := state.Propagate(ctx)
	if err != nil {
		return fmt.Errorf("failed to start propagation: %w", err)
	}

	totalFrames := state.FrameCount()
	processed := 0
	objectsDetected := make(map[int]int)
	maskCoverage := make(map[int]map[int]float64)

	for {
		frame, err := propagation.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("propagation failed at frame %d: %w", processed, err)
		}

		coverage := make(map[int]float64, len(frame.Masks))
		for objectID, mask := range frame.Masks {
			coverage[objectID] = mask.Coverage()
			if mask.Area() > 0 {
				objectsDetected[objectID]++
			}
			if frame.FrameIndex < maskArtifactFrames {
				p.writeMaskArtifact(resultDir, frame.FrameIndex, objectID, mask)
			}
		}
		maskCoverage[frame.FrameIndex] = coverage
		processed++

		if totalFrames > 0 && processed%10 == 0 {
			pct := 50 + 30*processed/totalFrames
			task.Progress(pct, fmt.Sprintf("tracked %d of %d frames", processed, totalFrames))
		}
	}

	task.Progress(80, "writing analysis results")

	elapsed := time.Since(started)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(processed) / elapsed.Seconds()
	}

	summary := &TrackingSummary{
		TotalFrames:     totalFrames,
		ProcessedFrames: processed,
		ObjectsDetected: objectsDetected,
		MaskCoverage:    maskCoverage,
		ProcessingTime:  elapsed.Round(time.Millisecond).String(),
		FramesPerSecond: fps,
		ModelSize:       modelSize,
		Engine:          engine.Name(),
	}

	if err := writeAnalysisResult(resultDir, summary); err != nil {
		return err
	}

	p.logger.Info("tracking finished",
		"session_id", session.ID(),
		"model", modelSize,
		"frames", processed,
		"elapsed", elapsed)

	task.Complete(StageCompleted, "tracking completed", func(s *Session) {
		s.resultDir = resultDir
		s.modelSize = modelSize
		s.summary = summary
	})
	return nil
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.callTO > 0 {
		return context.WithTimeout(ctx, p.callTO)
	}
	return context.WithCancel(ctx)
}

// writeMaskArtifact saves one mask image; artifact failures are logged
// and skipped, they never fail the stage.
func (p *Pipeline) writeMaskArtifact(resultDir string, frameIndex, objectID int, mask *segmentation.Mask) {
	name := fmt.Sprintf("mask_%05d_obj%d.webp", frameIndex, objectID)

	f, err := os.Create(filepath.Join(resultDir, name))
	if err != nil {
		p.logger.Warn("failed to create mask artifact", "file", name, "error", err)
		return
	}
	defer f.Close()

	if err := mask.WriteWebP(f); err != nil {
		p.logger.Warn("failed to write mask artifact", "file", name, "error", err)
	}
}

func writeAnalysisResult(resultDir string, summary *TrackingSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode analysis result: %w", err)
	}
	path := filepath.Join(resultDir, analysisResultFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write analysis result: %w", err)
	}
	return nil
}
