package capability

// GenerationSpec is a fully validated, normalized set of generation
// parameters. Produced by the validator, immutable afterwards; every
// downstream component trusts it without re-checking.
type GenerationSpec struct {
	Task        TaskID
	Prompt      string
	Image       []byte // present iff the task allows or requires an image
	Size        Size
	FrameCount  int   // always 4n+1
	Seed        int64 // -1 means the pipeline draws and records a fresh seed
	SampleSteps int
	GuideScale  float64
	SampleShift float64
	FPS         int
}
