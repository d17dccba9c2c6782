// Package types holds the JSON wire types of the HTTP API.
package types

// HealthResponse is returned by GET /health, independent of model readiness.
type HealthResponse struct {
	// Always "healthy" while the process serves requests.
	// example: healthy
	Status string `json:"status" example:"healthy"`
}

// RootResponse is the service metadata returned by GET /.
type RootResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: vidgend video generation API
	Message string `json:"message" example:"vidgend video generation API"`
	// Task used when a request omits the task field.
	// example: ti2v-5B
	DefaultTask string `json:"model_type" example:"ti2v-5B"`
	// All task ids the gateway knows.
	AvailableTasks []string `json:"available_tasks"`
}

// TasksResponse is returned by GET /tasks.
type TasksResponse struct {
	AvailableTasks []string `json:"available_tasks"`
	// example: ti2v-5B
	CurrentTask string `json:"current_task" example:"ti2v-5B"`
}

// SizesResponse is returned by GET /sizes/{task}.
type SizesResponse struct {
	// example: ti2v-5B
	Task string `json:"task" example:"ti2v-5B"`
	// Sizes in "width*height" form.
	// example: ["1280*704","704*1280"]
	SupportedSizes []string `json:"supported_sizes"`
}

// ErrorResponse is the consistent JSON error payload.
type ErrorResponse struct {
	// Human-readable failure description.
	// example: UnsupportedSize: unsupported size 999*999 for task ti2v-5B
	Detail string `json:"detail" example:"UnsupportedSize: unsupported size 999*999 for task ti2v-5B"`
}

// JobResponse is a snapshot of one generation job.
type JobResponse struct {
	// example: 7b1de3a4-9c0d-4c4e-9b34-1f2a6a8c9d10
	ID string `json:"id"`
	// example: ti2v-5B
	Task string `json:"task" example:"ti2v-5B"`
	// queued, acquiring, running, encoding, succeeded, failed, cancelled.
	// example: running
	State string `json:"state" example:"running"`
	// Unix seconds; zero when the phase was not reached.
	SubmittedAt int64 `json:"submitted_at_unix"`
	StartedAt   int64 `json:"started_at_unix,omitempty"`
	FinishedAt  int64 `json:"finished_at_unix,omitempty"`
	// Failure description, set on failed jobs.
	Error string `json:"error,omitempty"`
	// Seed actually used; reported once known for reproducibility.
	// example: 42
	Seed int64 `json:"seed"`
	// True when the video is staged and retrievable.
	ArtifactReady bool `json:"artifact_ready"`
}

// ModelStatus describes one resident model in GET /status.
type ModelStatus struct {
	// example: ti2v-5B
	Task string `json:"task" example:"ti2v-5B"`
	// loading, idle or in_use.
	// example: idle
	State string `json:"state" example:"idle"`
	// example: 0
	Device int `json:"device"`
	// Unix seconds.
	LoadedAt int64 `json:"loaded_at_unix"`
	LastUsed int64 `json:"last_used_unix"`
	// Estimated accelerator memory footprint in MB.
	// example: 19600
	FootprintMB int `json:"footprint_mb" example:"19600"`
}

// DeviceStatus describes one accelerator in GET /status.
type DeviceStatus struct {
	// example: 0
	Device int `json:"device"`
	// example: 1
	MaxResident int `json:"max_resident" example:"1"`
	// example: 81920
	BudgetMB int `json:"budget_mb,omitempty" example:"81920"`
	// example: 2048
	MarginMB int           `json:"margin_mb,omitempty" example:"2048"`
	UsedMB   int           `json:"used_est_mb"`
	Models   []ModelStatus `json:"models"`
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// example: 1
	EvictionsTotal uint64 `json:"evictions_total" example:"1"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Devices []DeviceStatus `json:"devices"`
	// Jobs waiting in the admission queue.
	// example: 2
	QueueLen int `json:"queue_len" example:"2"`
	// Queue capacity before submissions are rejected.
	// example: 10
	QueueDepth int `json:"queue_depth" example:"10"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
