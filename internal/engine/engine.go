// Package engine is the boundary to the external inference runtime. The
// gateway never inspects model internals; it hands a validated parameter set
// to an Engine and consumes raw frames or a typed failure.
package engine

import (
	"context"

	"vidgend/internal/registry"
)

// InferRequest carries the validated parameters for one generation.
type InferRequest struct {
	Prompt      string
	Image       []byte // encoded input image, empty when the task takes none
	Width       int
	Height      int
	FrameCount  int
	SampleSteps int
	GuideScale  float64
	SampleShift float64
	Seed        int64
}

// FrameSize returns the byte length of one raw RGB24 frame.
func (r InferRequest) FrameSize() int { return r.Width * r.Height * 3 }

// Engine is one resident model runtime. Exactly one Infer runs at a time;
// the residency manager's handle exclusivity enforces this.
type Engine interface {
	// Infer drives the sampling loop and streams raw RGB24 frames through
	// onFrame in order. Implementations honor ctx between frame batches and
	// return a cancelled failure when it fires mid-run.
	Infer(ctx context.Context, req InferRequest, onFrame func(frame []byte) error) error
	// Close releases the runtime and frees accelerator memory.
	Close() error
}

// Loader brings model weights into accelerator memory on a device. Loading
// is a potentially multi-minute operation; implementations honor ctx.
type Loader interface {
	Load(ctx context.Context, cp registry.Checkpoint, device int) (Engine, error)
}
