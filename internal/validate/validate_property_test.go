package validate

import (
	"testing"

	"pgregory.net/rapid"

	"vidgend/internal/capability"
)

// Accepted frame counts are exactly the 4n+1 values within [1, MaxFrames].
func TestFrameCountProperty(t *testing.T) {
	reg, err := capability.NewRegistry("")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	v := New(reg, Limits{})
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(-10, 400).Draw(rt, "frames")
		_, verr := v.Validate(RawRequest{Prompt: "p", FrameCount: &n})
		legal := n >= 1 && n <= DefaultLimits().MaxFrames && n%4 == 1
		if legal && verr != nil {
			rt.Fatalf("frames %d rejected: %v", n, verr)
		}
		if !legal {
			kind, ok := KindOf(verr)
			if !ok || kind != KindInvalidFrameCount {
				rt.Fatalf("frames %d accepted or wrong kind: %v", n, verr)
			}
		}
	})
}

// A spec that validates always has every parameter inside its bounds,
// regardless of what combination of optional fields the request carried.
func TestValidatedSpecBoundsProperty(t *testing.T) {
	reg, err := capability.NewRegistry("")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	v := New(reg, Limits{})
	limits := DefaultLimits()
	rapid.Check(t, func(rt *rapid.T) {
		raw := RawRequest{Prompt: "p", Task: "ti2v-5B"}
		if rapid.Bool().Draw(rt, "withFrames") {
			n := rapid.IntRange(1, 300).Draw(rt, "frames")
			raw.FrameCount = &n
		}
		if rapid.Bool().Draw(rt, "withSteps") {
			n := rapid.IntRange(-5, 150).Draw(rt, "steps")
			raw.SampleSteps = &n
		}
		if rapid.Bool().Draw(rt, "withSeed") {
			s := rapid.Int64Range(-3, 1<<40).Draw(rt, "seed")
			raw.Seed = &s
		}
		spec, verr := v.Validate(raw)
		if verr != nil {
			if !IsValidation(verr) {
				rt.Fatalf("non-validation error: %v", verr)
			}
			return
		}
		if spec.FrameCount < 1 || spec.FrameCount > limits.MaxFrames || spec.FrameCount%4 != 1 {
			rt.Fatalf("accepted spec has bad frame count %d", spec.FrameCount)
		}
		if spec.SampleSteps < limits.MinSampleSteps || spec.SampleSteps > limits.MaxSampleSteps {
			rt.Fatalf("accepted spec has bad steps %d", spec.SampleSteps)
		}
		if spec.Seed < -1 {
			rt.Fatalf("accepted spec has bad seed %d", spec.Seed)
		}
		if spec.GuideScale <= 0 || spec.GuideScale > limits.MaxGuideScale {
			rt.Fatalf("accepted spec has bad guide scale %g", spec.GuideScale)
		}
	})
}
