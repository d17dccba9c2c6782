// Package httpapi exposes the serving gateway over HTTP. Request handling is
// fully concurrent; only the device worker loops behind the scheduler are
// serialized.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidgend/internal/gateway"
	"vidgend/internal/scheduler"
	"vidgend/internal/validate"
	"vidgend/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	DefaultTask() string
	Tasks() []string
	SupportedSizes(task string) ([]string, error)
	Generate(ctx context.Context, raw validate.RawRequest) (*gateway.GenerateResult, error)
	SubmitJob(raw validate.RawRequest) (scheduler.Snapshot, error)
	JobStatus(id string) (scheduler.Snapshot, error)
	CancelJob(id string) error
	JobResult(id string) (io.ReadCloser, int64, error)
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the router over svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)

	// Liveness: healthy as long as the process answers, independent of
	// whether any model is loaded.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no checkpoints"))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.RootResponse{
			Status:         "healthy",
			Message:        "vidgend video generation API",
			DefaultTask:    svc.DefaultTask(),
			AvailableTasks: svc.Tasks(),
		})
	})

	r.Get("/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.TasksResponse{
			AvailableTasks: svc.Tasks(),
			CurrentTask:    svc.DefaultTask(),
		})
	})

	r.Get("/sizes/{task}", func(w http.ResponseWriter, r *http.Request) {
		task := chi.URLParam(r, "task")
		sizes, err := svc.SupportedSizes(task)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types.SizesResponse{Task: task, SupportedSizes: sizes})
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		raw, err := parseGenerateForm(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		start := time.Now()
		logRequestStart(r, raw.Task)
		// Join the server base context so shutdown also cancels the job.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Generate(ctx, raw)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return // client gone or shutting down; nothing to write
			}
			writeError(w, r, err)
			logRequestEnd(r, statusFor(err), time.Since(start), err)
			return
		}
		defer res.Video.Close()
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
		w.Header().Set("Content-Disposition", `attachment; filename="video_`+res.JobID+`.mp4"`)
		w.Header().Set("X-Job-Id", res.JobID)
		w.Header().Set("X-Seed", strconv.FormatInt(res.Seed, 10))
		_, _ = io.Copy(w, res.Video)
		logRequestEnd(r, http.StatusOK, time.Since(start), nil)
	})

	r.Post("/jobs", func(w http.ResponseWriter, r *http.Request) {
		raw, err := parseGenerateForm(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		snap, err := svc.SubmitJob(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobResponse(snap))
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.JobStatus(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(snap))
	})

	r.Delete("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.CancelJob(id); err != nil {
			writeError(w, r, err)
			return
		}
		snap, err := svc.JobStatus(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobResponse(snap))
	})

	r.Get("/jobs/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rc, size, err := svc.JobResult(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Content-Disposition", `attachment; filename="video_`+id+`.mp4"`)
		_, _ = io.Copy(w, rc)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func jobResponse(snap scheduler.Snapshot) types.JobResponse {
	resp := types.JobResponse{
		ID:            snap.ID,
		Task:          string(snap.Task),
		State:         string(snap.State),
		SubmittedAt:   snap.SubmittedAt.Unix(),
		Error:         snap.Error,
		Seed:          snap.Seed,
		ArtifactReady: snap.State == scheduler.StateSucceeded,
	}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt = snap.StartedAt.Unix()
	}
	if !snap.FinishedAt.IsZero() {
		resp.FinishedAt = snap.FinishedAt.Unix()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
