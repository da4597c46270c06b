package segmentation

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// DemoEngine is a self-contained engine that produces deterministic
// synthetic masks: a disc seeded at the positive points that drifts
// slowly across frames, with exclusion points carved out. It exists so
// the full pipeline can run without the real model and checkpoints.
type DemoEngine struct {
	model  ModelSize
	logger hclog.Logger
}

// NewDemoEngine creates a demo engine for the given model size
func NewDemoEngine(model string, logger hclog.Logger) (*DemoEngine, error) {
	size, _, err := ResolveModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &DemoEngine{
		model:  size,
		logger: logger.Named("demo-engine"),
	}, nil
}

// Name identifies the engine implementation
func (e *DemoEngine) Name() string {
	return "demo-" + string(e.model)
}

// Init loads the frame list and image dimensions from framesDir
func (e *DemoEngine) Init(ctx context.Context, framesDir string) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrames, err)
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			frames = append(frames, entry.Name())
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFrames, framesDir)
	}
	sort.Strings(frames)

	width, height := frameDimensions(filepath.Join(framesDir, frames[0]))

	e.logger.Debug("initialized analysis state",
		"frames_dir", framesDir,
		"frame_count", len(frames),
		"width", width,
		"height", height)

	return &demoState{
		frames: frames,
		width:  width,
		height: height,
	}, nil
}

// Close releases engine resources
func (e *DemoEngine) Close() error {
	return nil
}

// frameDimensions decodes the image header; frames that fail to decode
// get a nominal size so the synthetic masks stay well defined.
func frameDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 640, 480
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 640, 480
	}
	return cfg.Width, cfg.Height
}

type demoAnnotation struct {
	frameIndex int
	points     []Point
	labels     []int
}

type demoState struct {
	mu         sync.Mutex
	frames     []string
	width      int
	height     int
	objects    map[int]demoAnnotation
	propagated bool
	closed     bool
}

func (s *demoState) FrameCount() int {
	return len(s.frames)
}

func (s *demoState) Annotate(ctx context.Context, frameIndex, objectID int, points []Point, labels []int) (*Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("analysis state is closed")
	}
	if frameIndex < 0 || frameIndex >= len(s.frames) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidFrame, frameIndex, len(s.frames))
	}
	if err := ValidateSeedPoints(points, labels); err != nil {
		return nil, err
	}

	if s.objects == nil {
		s.objects = make(map[int]demoAnnotation)
	}
	s.objects[objectID] = demoAnnotation{
		frameIndex: frameIndex,
		points:     append([]Point(nil), points...),
		labels:     append([]int(nil), labels...),
	}

	return s.maskAt(objectID, frameIndex), nil
}

func (s *demoState) Propagate(ctx context.Context) (Propagation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("analysis state is closed")
	}
	if s.propagated {
		return nil, ErrPropagationConsumed
	}
	if len(s.objects) == 0 {
		return nil, fmt.Errorf("%w: no annotated objects", ErrInvalidPoints)
	}
	s.propagated = true

	return &demoPropagation{state: s}, nil
}

func (s *demoState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// maskAt renders the synthetic mask for one object on one frame.
// Callers hold s.mu.
func (s *demoState) maskAt(objectID, frameIndex int) *Mask {
	ann := s.objects[objectID]
	mask := NewMask(s.width, s.height)

	var cx, cy float64
	positives := 0
	for i, p := range ann.points {
		if ann.labels[i] == LabelInclude {
			cx += p.X
			cy += p.Y
			positives++
		}
	}
	if positives == 0 {
		return mask
	}
	cx /= float64(positives)
	cy /= float64(positives)

	// Drift a couple of pixels per frame, direction keyed off the
	// object id so overlapping objects stay distinguishable.
	delta := float64(frameIndex - ann.frameIndex)
	cx += delta * float64(1+objectID%3)
	cy += delta * 0.5

	radius := 0.08 * math.Min(float64(s.width), float64(s.height))
	fillCircle(mask, cx, cy, radius, true)

	carve := radius * 0.6
	for i, p := range ann.points {
		if ann.labels[i] == LabelExclude {
			fillCircle(mask, p.X, p.Y, carve, false)
		}
	}

	return mask
}

func fillCircle(mask *Mask, cx, cy, radius float64, set bool) {
	minX := int(math.Floor(cx - radius))
	maxX := int(math.Ceil(cx + radius))
	minY := int(math.Floor(cy - radius))
	maxY := int(math.Ceil(cy + radius))
	r2 := radius * radius

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r2 {
				if set {
					mask.Set(x, y)
				} else {
					mask.Clear(x, y)
				}
			}
		}
	}
}

type demoPropagation struct {
	state *demoState
	next  int
}

func (p *demoPropagation) Next(ctx context.Context) (*FrameSegments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	if p.next >= len(p.state.frames) {
		return nil, io.EOF
	}

	frame := &FrameSegments{
		FrameIndex: p.next,
		Masks:      make(map[int]*Mask, len(p.state.objects)),
	}
	for objectID := range p.state.objects {
		frame.Masks[objectID] = p.state.maskAt(objectID, p.next)
	}
	p.next++

	return frame, nil
}
