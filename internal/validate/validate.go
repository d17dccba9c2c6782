// Package validate turns raw request fields into a normalized GenerationSpec
// or a typed validation failure. It validates against the capability registry
// only; it never touches the accelerator.
package validate

import (
	"strings"

	"vidgend/internal/capability"
)

// RawRequest carries the request fields as parsed from the multipart form,
// before any checking. Pointer fields distinguish "omitted" from zero.
type RawRequest struct {
	Task        string
	Prompt      string
	Image       []byte
	Size        string
	FrameCount  *int
	Seed        *int64
	SampleSteps *int
	GuideScale  *float64
}

// Limits bounds the numeric request parameters.
type Limits struct {
	MaxPromptLen   int
	MaxFrames      int
	MinSampleSteps int
	MaxSampleSteps int
	MaxGuideScale  float64
}

// DefaultLimits returns the stock parameter bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxPromptLen:   2000,
		MaxFrames:      257,
		MinSampleSteps: 1,
		MaxSampleSteps: 100,
		MaxGuideScale:  20,
	}
}

// Validator checks requests against the capability registry.
type Validator struct {
	reg    *capability.Registry
	limits Limits
}

// New builds a validator. Zero-valued limits fields fall back to defaults.
func New(reg *capability.Registry, limits Limits) *Validator {
	def := DefaultLimits()
	if limits.MaxPromptLen <= 0 {
		limits.MaxPromptLen = def.MaxPromptLen
	}
	if limits.MaxFrames <= 0 {
		limits.MaxFrames = def.MaxFrames
	}
	if limits.MinSampleSteps <= 0 {
		limits.MinSampleSteps = def.MinSampleSteps
	}
	if limits.MaxSampleSteps <= 0 {
		limits.MaxSampleSteps = def.MaxSampleSteps
	}
	if limits.MaxGuideScale <= 0 {
		limits.MaxGuideScale = def.MaxGuideScale
	}
	return &Validator{reg: reg, limits: limits}
}

// Validate runs the checks in order and stops at the first failure. On
// success the returned spec has every field populated, with task defaults
// substituted for omitted parameters.
func (v *Validator) Validate(raw RawRequest) (capability.GenerationSpec, error) {
	var spec capability.GenerationSpec

	// 1. Task must be known; empty selects the configured default.
	taskID := capability.TaskID(strings.TrimSpace(raw.Task))
	if taskID == "" {
		taskID = v.reg.DefaultTask()
	}
	def, err := v.reg.Lookup(taskID)
	if err != nil {
		return spec, errf(KindUnknownTask, "unsupported task: %s", taskID)
	}

	// 2. Prompt.
	prompt := strings.TrimSpace(raw.Prompt)
	if prompt == "" {
		return spec, errf(KindInvalidPrompt, "prompt is required")
	}
	if len(prompt) > v.limits.MaxPromptLen {
		return spec, errf(KindInvalidPrompt, "prompt exceeds %d characters", v.limits.MaxPromptLen)
	}

	// 3. Image presence must match the task's requirement.
	hasImage := len(raw.Image) > 0
	switch def.Image {
	case capability.ImageRequired:
		if !hasImage {
			return spec, errf(KindMissingImage, "image is required for task %s", def.ID)
		}
	case capability.ImageForbidden:
		if hasImage {
			return spec, errf(KindUnexpectedImage, "task %s does not accept an image", def.ID)
		}
	}

	// 4. Size must be one of the task's allowed sizes.
	size := def.DefaultSize
	if s := strings.TrimSpace(raw.Size); s != "" {
		parsed, perr := capability.ParseSize(s)
		if perr != nil {
			return spec, errf(KindUnsupportedSize, "unsupported size: %s", s)
		}
		if !sizeAllowed(def.Sizes, parsed) {
			return spec, errf(KindUnsupportedSize, "unsupported size %s for task %s", parsed, def.ID)
		}
		size = parsed
	}

	// 5. Frame count: the samplers only accept 4n+1 frames.
	frames := def.FrameCount
	if raw.FrameCount != nil {
		n := *raw.FrameCount
		if n < 1 || n > v.limits.MaxFrames || n%4 != 1 {
			return spec, errf(KindInvalidFrameCount,
				"frame_num must be 4n+1 within [1, %d], got %d", v.limits.MaxFrames, n)
		}
		frames = n
	}

	// 6. Remaining numeric parameters.
	seed := int64(-1)
	if raw.Seed != nil {
		if *raw.Seed < -1 {
			return spec, errf(KindInvalidParameter, "seed must be -1 or a non-negative integer")
		}
		seed = *raw.Seed
	}
	steps := def.SampleSteps
	if raw.SampleSteps != nil {
		n := *raw.SampleSteps
		if n < v.limits.MinSampleSteps || n > v.limits.MaxSampleSteps {
			return spec, errf(KindInvalidParameter,
				"sample_steps must be within [%d, %d], got %d", v.limits.MinSampleSteps, v.limits.MaxSampleSteps, n)
		}
		steps = n
	}
	guide := def.GuideScale
	if raw.GuideScale != nil {
		g := *raw.GuideScale
		if g <= 0 || g > v.limits.MaxGuideScale {
			return spec, errf(KindInvalidParameter,
				"guide_scale must be within (0, %g], got %g", v.limits.MaxGuideScale, g)
		}
		guide = g
	}

	spec = capability.GenerationSpec{
		Task:        def.ID,
		Prompt:      prompt,
		Size:        size,
		FrameCount:  frames,
		Seed:        seed,
		SampleSteps: steps,
		GuideScale:  guide,
		SampleShift: def.SampleShift,
		FPS:         def.FPS,
	}
	if hasImage {
		spec.Image = append([]byte(nil), raw.Image...)
	}
	return spec, nil
}

func sizeAllowed(allowed []capability.Size, s capability.Size) bool {
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}
