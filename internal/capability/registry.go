// Package capability defines the static task table: which generation tasks the
// gateway serves, the resolutions each supports, and the per-task sampling
// defaults merged into every accepted request.
package capability

// TaskID names a generation mode.
type TaskID string

const (
	TaskT2V     TaskID = "t2v-A14B"    // text-to-video
	TaskI2V     TaskID = "i2v-A14B"    // image-to-video
	TaskTI2V    TaskID = "ti2v-5B"     // text-or-image-to-video
	TaskS2V     TaskID = "s2v-14B"     // speech-to-video
	TaskAnimate TaskID = "animate-14B" // animation from a reference image
)

// ImageRequirement states whether a task consumes an input image.
type ImageRequirement int

const (
	ImageForbidden ImageRequirement = iota
	ImageOptional
	ImageRequired
)

func (r ImageRequirement) String() string {
	switch r {
	case ImageOptional:
		return "optional"
	case ImageRequired:
		return "required"
	default:
		return "forbidden"
	}
}

// TaskDefinition is the immutable capability record for one task.
type TaskDefinition struct {
	ID          TaskID
	Image       ImageRequirement
	Sizes       []Size
	DefaultSize Size
	FrameCount  int
	SampleSteps int
	GuideScale  float64
	SampleShift float64
	FPS         int
}

// builtinDefs mirrors the checkpoint configuration shipped with the models.
// Frame-count defaults all satisfy the 4n+1 constraint the samplers require.
var builtinDefs = []TaskDefinition{
	{
		ID:    TaskT2V,
		Image: ImageForbidden,
		Sizes: []Size{
			{480, 832}, {832, 480}, {1280, 720}, {720, 1280},
		},
		DefaultSize: Size{1280, 720},
		FrameCount:  81,
		SampleSteps: 40,
		GuideScale:  3.0,
		SampleShift: 12.0,
		FPS:         16,
	},
	{
		ID:    TaskI2V,
		Image: ImageRequired,
		Sizes: []Size{
			{480, 832}, {832, 480}, {1280, 720}, {720, 1280},
		},
		DefaultSize: Size{1280, 720},
		FrameCount:  81,
		SampleSteps: 40,
		GuideScale:  3.5,
		SampleShift: 5.0,
		FPS:         16,
	},
	{
		ID:          TaskTI2V,
		Image:       ImageOptional,
		Sizes:       []Size{{1280, 704}, {704, 1280}},
		DefaultSize: Size{1280, 704},
		FrameCount:  121,
		SampleSteps: 50,
		GuideScale:  5.0,
		SampleShift: 5.0,
		FPS:         24,
	},
	{
		ID:          TaskS2V,
		Image:       ImageRequired,
		Sizes:       []Size{{1024, 704}, {704, 1024}},
		DefaultSize: Size{1024, 704},
		FrameCount:  81,
		SampleSteps: 40,
		GuideScale:  4.5,
		SampleShift: 3.0,
		FPS:         16,
	},
	{
		ID:          TaskAnimate,
		Image:       ImageRequired,
		Sizes:       []Size{{1280, 720}, {720, 1280}},
		DefaultSize: Size{1280, 720},
		FrameCount:  77,
		SampleSteps: 20,
		GuideScale:  1.0,
		SampleShift: 5.0,
		FPS:         16,
	},
}

// Registry is a read-only lookup table of task definitions. Built once at
// startup, never mutated.
type Registry struct {
	defs        []TaskDefinition
	byID        map[TaskID]TaskDefinition
	defaultTask TaskID
}

// NewRegistry builds a registry over the builtin task table. defaultTask is
// used when a request omits the task field; empty selects ti2v-5B.
func NewRegistry(defaultTask TaskID) (*Registry, error) {
	if defaultTask == "" {
		defaultTask = TaskTI2V
	}
	r := &Registry{
		defs: builtinDefs,
		byID: make(map[TaskID]TaskDefinition, len(builtinDefs)),
	}
	for _, d := range r.defs {
		r.byID[d.ID] = d
	}
	if _, ok := r.byID[defaultTask]; !ok {
		return nil, ErrTaskNotFound(string(defaultTask))
	}
	r.defaultTask = defaultTask
	return r, nil
}

// Lookup returns the definition for id, or a task-not-found error.
func (r *Registry) Lookup(id TaskID) (TaskDefinition, error) {
	d, ok := r.byID[id]
	if !ok {
		return TaskDefinition{}, ErrTaskNotFound(string(id))
	}
	return d, nil
}

// SupportedSizes returns the allowed sizes for a task in declaration order.
func (r *Registry) SupportedSizes(id TaskID) ([]Size, error) {
	d, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]Size, len(d.Sizes))
	copy(out, d.Sizes)
	return out, nil
}

// IDs lists all known task ids in declaration order.
func (r *Registry) IDs() []TaskID {
	out := make([]TaskID, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.ID)
	}
	return out
}

// DefaultTask returns the task used when a request does not name one.
func (r *Registry) DefaultTask() TaskID { return r.defaultTask }
