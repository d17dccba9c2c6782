// Package pipeline runs one generation job end to end: conditioning assembly,
// the sampling loop via the engine, container encoding, and artifact staging.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"vidgend/internal/artifact"
	"vidgend/internal/capability"
	"vidgend/internal/engine"
)

// Pipeline is stateless between jobs; one instance serves all devices.
type Pipeline struct {
	enc   Encoder
	store *artifact.Store
	log   zerolog.Logger
}

// New builds a pipeline over an encoder and the artifact store.
func New(enc Encoder, store *artifact.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{enc: enc, store: store, log: log}
}

// Run drives one job on a borrowed engine. Frames stream straight into the
// encoder as the sampling loop produces them; onEncoding is invoked when the
// last frame is in and the container is being finalized. Returns the artifact
// ref and the seed actually used (freshly drawn when spec.Seed is -1, so the
// caller can report it for reproducibility).
//
// On any failure the partial artifact is deleted before returning; engine
// failures pass through with their type intact.
func (p *Pipeline) Run(ctx context.Context, eng engine.Engine, spec capability.GenerationSpec, jobID string, onEncoding func()) (artifact.Ref, int64, error) {
	seed := spec.Seed
	if seed == -1 {
		seed = rand.Int63()
	}

	ref, outPath := p.store.Allocate(jobID)
	sess, err := p.enc.Begin(ctx, outPath, spec.Size.Width, spec.Size.Height, spec.FPS)
	if err != nil {
		return artifact.Ref{}, seed, fmt.Errorf("open encoder: %w", err)
	}

	req := engine.InferRequest{
		Prompt:      spec.Prompt,
		Image:       spec.Image,
		Width:       spec.Size.Width,
		Height:      spec.Size.Height,
		FrameCount:  spec.FrameCount,
		SampleSteps: spec.SampleSteps,
		GuideScale:  spec.GuideScale,
		SampleShift: spec.SampleShift,
		Seed:        seed,
	}
	frames := 0
	if err := eng.Infer(ctx, req, func(frame []byte) error {
		frames++
		return sess.WriteFrame(frame)
	}); err != nil {
		sess.Abort()
		_ = p.store.Delete(ref)
		return artifact.Ref{}, seed, err
	}

	if onEncoding != nil {
		onEncoding()
	}
	if err := sess.Close(); err != nil {
		_ = p.store.Delete(ref)
		return artifact.Ref{}, seed, fmt.Errorf("finalize video: %w", err)
	}
	p.log.Debug().Str("job", jobID).Int("frames", frames).Int64("seed", seed).Msg("video encoded")
	return ref, seed, nil
}
