// Package segmentation wraps the externally supplied video object
// tracking capability behind a narrow contract: initialize an analysis
// state from a frame directory, annotate objects with seed points on
// one frame, then propagate the resulting masks across every frame.
package segmentation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable indicates the model or checkpoint could not be loaded
	ErrModelUnavailable = errors.New("segmentation model unavailable")
	// ErrNoFrames indicates the frames directory yielded zero frames
	ErrNoFrames = errors.New("no frames found in directory")
	// ErrInvalidFrame indicates a frame index outside the initialized set
	ErrInvalidFrame = errors.New("frame index out of range")
	// ErrInvalidPoints indicates a malformed point/label set
	ErrInvalidPoints = errors.New("invalid seed points")
	// ErrPropagationConsumed indicates a second propagation on the same state
	ErrPropagationConsumed = errors.New("propagation state already consumed")
)

// Point is one seed coordinate in frame pixel space
type Point struct {
	X float64
	Y float64
}

// Seed labels: include the region under the point, or exclude it
const (
	LabelExclude = 0
	LabelInclude = 1
)

// FrameSegments carries the propagated masks for one frame
type FrameSegments struct {
	FrameIndex int
	Masks      map[int]*Mask
}

// Propagation is a single-pass iterator over propagated frames. It is
// not restartable; re-tracking requires a fresh State from Init. Next
// returns io.EOF after the final frame.
type Propagation interface {
	Next(ctx context.Context) (*FrameSegments, error)
}

// State is one initialized video analysis
type State interface {
	// FrameCount reports the number of frames in the initialized set
	FrameCount() int

	// Annotate registers seed points for an object on one frame and
	// returns the resulting mask for that frame. Points and labels
	// must be equal length with labels restricted to {0, 1}.
	Annotate(ctx context.Context, frameIndex, objectID int, points []Point, labels []int) (*Mask, error)

	// Propagate extends every annotated object's mask across the full
	// frame set, one frame at a time.
	Propagate(ctx context.Context) (Propagation, error)

	// Close releases the analysis state
	Close() error
}

// Engine is the boundary to the external segmentation capability
type Engine interface {
	// Name identifies the engine implementation
	Name() string

	// Init loads the frame set and prepares an analysis state
	Init(ctx context.Context, framesDir string) (State, error)

	// Close releases engine resources
	Close() error
}

// ModelSize names one of the supported model checkpoints
type ModelSize string

const (
	ModelTiny     ModelSize = "tiny"
	ModelSmall    ModelSize = "small"
	ModelBasePlus ModelSize = "base_plus"
	ModelLarge    ModelSize = "large"
)

// ModelSpec pairs a model configuration with its checkpoint file
type ModelSpec struct {
	ConfigFile     string
	CheckpointFile string
}

var modelCatalog = map[ModelSize]ModelSpec{
	ModelTiny:     {ConfigFile: "configs/sam2.1/sam2.1_hiera_t.yaml", CheckpointFile: "sam2.1_hiera_tiny.pt"},
	ModelSmall:    {ConfigFile: "configs/sam2.1/sam2.1_hiera_s.yaml", CheckpointFile: "sam2.1_hiera_small.pt"},
	ModelBasePlus: {ConfigFile: "configs/sam2.1/sam2.1_hiera_b+.yaml", CheckpointFile: "sam2.1_hiera_base_plus.pt"},
	ModelLarge:    {ConfigFile: "configs/sam2.1/sam2.1_hiera_l.yaml", CheckpointFile: "sam2.1_hiera_large.pt"},
}

// ResolveModel validates a model size name against the catalog
func ResolveModel(name string) (ModelSize, ModelSpec, error) {
	size := ModelSize(name)
	spec, ok := modelCatalog[size]
	if !ok {
		return "", ModelSpec{}, fmt.Errorf("unsupported model size %q", name)
	}
	return size, spec, nil
}

// ModelSizes returns the supported model size names
func ModelSizes() []string {
	return []string{string(ModelTiny), string(ModelSmall), string(ModelBasePlus), string(ModelLarge)}
}

// ValidateSeedPoints checks the annotate contract shared by all engines
func ValidateSeedPoints(points []Point, labels []int) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: empty point set", ErrInvalidPoints)
	}
	if len(points) != len(labels) {
		return fmt.Errorf("%w: %d points but %d labels", ErrInvalidPoints, len(points), len(labels))
	}
	for i, label := range labels {
		if label != LabelExclude && label != LabelInclude {
			return fmt.Errorf("%w: label %d at index %d", ErrInvalidPoints, label, i)
		}
	}
	return nil
}
