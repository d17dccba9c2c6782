package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidgend/internal/capability"
	"vidgend/internal/gateway"
	"vidgend/internal/scheduler"
	"vidgend/internal/validate"
	"vidgend/pkg/types"
)

// mockService lets each test script the gateway behavior per call.
type mockService struct {
	defaultTask string
	tasks       []string
	sizes       func(task string) ([]string, error)
	generate    func(ctx context.Context, raw validate.RawRequest) (*gateway.GenerateResult, error)
	submit      func(raw validate.RawRequest) (scheduler.Snapshot, error)
	jobStatus   func(id string) (scheduler.Snapshot, error)
	cancel      func(id string) error
	jobResult   func(id string) (io.ReadCloser, int64, error)
	status      types.StatusResponse
	ready       bool
}

func (m *mockService) DefaultTask() string { return m.defaultTask }
func (m *mockService) Tasks() []string     { return m.tasks }
func (m *mockService) SupportedSizes(task string) ([]string, error) {
	return m.sizes(task)
}
func (m *mockService) Generate(ctx context.Context, raw validate.RawRequest) (*gateway.GenerateResult, error) {
	return m.generate(ctx, raw)
}
func (m *mockService) SubmitJob(raw validate.RawRequest) (scheduler.Snapshot, error) {
	return m.submit(raw)
}
func (m *mockService) JobStatus(id string) (scheduler.Snapshot, error) { return m.jobStatus(id) }
func (m *mockService) CancelJob(id string) error                       { return m.cancel(id) }
func (m *mockService) JobResult(id string) (io.ReadCloser, int64, error) {
	return m.jobResult(id)
}
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func defaultMock() *mockService {
	return &mockService{
		defaultTask: "ti2v-5B",
		tasks:       []string{"t2v-A14B", "i2v-A14B", "ti2v-5B"},
		ready:       true,
		sizes: func(task string) ([]string, error) {
			if task != "ti2v-5B" {
				return nil, capability.ErrTaskNotFound(task)
			}
			return []string{"1280*704", "704*1280"}, nil
		},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr
}

// generateForm builds a multipart body with the given fields.
func generateForm(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if image != nil {
		part, err := w.CreateFormFile("image", "input.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthAndRoot(t *testing.T) {
	h := NewMux(defaultMock())

	var health types.HealthResponse
	rr := doJSON(t, h, http.MethodGet, "/health", &health)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", health.Status)

	var root types.RootResponse
	rr = doJSON(t, h, http.MethodGet, "/", &root)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ti2v-5B", root.DefaultTask)
	assert.Len(t, root.AvailableTasks, 3)
	// The default task travels under the legacy field name.
	assert.Contains(t, rr.Body.String(), `"model_type":"ti2v-5B"`)
}

func TestReadyz(t *testing.T) {
	svc := defaultMock()
	h := NewMux(svc)
	rr := doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	svc.ready = false
	rr = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestTasksAndSizes(t *testing.T) {
	h := NewMux(defaultMock())

	var tasks types.TasksResponse
	rr := doJSON(t, h, http.MethodGet, "/tasks", &tasks)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ti2v-5B", tasks.CurrentTask)

	var sizes types.SizesResponse
	rr = doJSON(t, h, http.MethodGet, "/sizes/ti2v-5B", &sizes)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"1280*704", "704*1280"}, sizes.SupportedSizes)

	var apiErr types.ErrorResponse
	rr = doJSON(t, h, http.MethodGet, "/sizes/bogus", &apiErr)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotEmpty(t, apiErr.Detail)
}

func TestGenerateSuccess(t *testing.T) {
	svc := defaultMock()
	var gotRaw validate.RawRequest
	svc.generate = func(ctx context.Context, raw validate.RawRequest) (*gateway.GenerateResult, error) {
		gotRaw = raw
		return &gateway.GenerateResult{
			JobID: "job-9",
			Seed:  42,
			Video: io.NopCloser(strings.NewReader("mp4data")),
			Size:  7,
		}, nil
	}
	h := NewMux(svc)

	body, ctype := generateForm(t, map[string]string{
		"prompt":    "a cat surfing",
		"task":      "ti2v-5B",
		"size":      "1280*704",
		"frame_num": "49",
		"seed":      "42",
	}, []byte{0x89, 0x50})
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
	assert.Equal(t, "7", rr.Header().Get("Content-Length"))
	assert.Equal(t, "job-9", rr.Header().Get("X-Job-Id"))
	assert.Equal(t, "42", rr.Header().Get("X-Seed"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "video_job-9.mp4")
	assert.Equal(t, "mp4data", rr.Body.String())

	// Form decoding carried every field through.
	assert.Equal(t, "a cat surfing", gotRaw.Prompt)
	assert.Equal(t, "ti2v-5B", gotRaw.Task)
	require.NotNil(t, gotRaw.FrameCount)
	assert.Equal(t, 49, *gotRaw.FrameCount)
	require.NotNil(t, gotRaw.Seed)
	assert.EqualValues(t, 42, *gotRaw.Seed)
	assert.Equal(t, []byte{0x89, 0x50}, gotRaw.Image)
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", validationErr(t), http.StatusBadRequest},
		{"overloaded", scheduler.ErrOverloaded(), http.StatusServiceUnavailable},
		{"internal", errors.New("model exploded"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			svc := defaultMock()
			svc.generate = func(ctx context.Context, raw validate.RawRequest) (*gateway.GenerateResult, error) {
				return nil, c.err
			}
			h := NewMux(svc)
			body, ctype := generateForm(t, map[string]string{"prompt": "p"}, nil)
			req := httptest.NewRequest(http.MethodPost, "/generate", body)
			req.Header.Set("Content-Type", ctype)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, c.status, rr.Code)
			var apiErr types.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
			assert.Equal(t, c.err.Error(), apiErr.Detail)
		})
	}
}

// validationErr produces a real validation failure so the test exercises the
// same error type the validator emits.
func validationErr(t *testing.T) error {
	t.Helper()
	reg, err := capability.NewRegistry("")
	require.NoError(t, err)
	_, verr := validate.New(reg, validate.DefaultLimits()).Validate(validate.RawRequest{Prompt: "p", Size: "999*999"})
	require.Error(t, verr)
	return verr
}

func TestGenerateBadForm(t *testing.T) {
	h := NewMux(defaultMock())

	// Non-numeric frame_num is rejected before the service is consulted.
	body, ctype := generateForm(t, map[string]string{"prompt": "p", "frame_num": "many"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// A non-multipart body is a 400, not a panic.
	req = httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJobsEndpoints(t *testing.T) {
	svc := defaultMock()
	now := time.Now()
	snap := scheduler.Snapshot{
		ID:          "job-1",
		Task:        capability.TaskTI2V,
		State:       scheduler.StateQueued,
		SubmittedAt: now,
		Seed:        -1,
	}
	svc.submit = func(raw validate.RawRequest) (scheduler.Snapshot, error) { return snap, nil }
	svc.jobStatus = func(id string) (scheduler.Snapshot, error) {
		if id != "job-1" {
			return scheduler.Snapshot{}, scheduler.ErrJobNotFound(id)
		}
		done := snap
		done.State = scheduler.StateSucceeded
		done.StartedAt = now
		done.FinishedAt = now.Add(time.Minute)
		done.Seed = 7
		return done, nil
	}
	svc.cancel = func(id string) error {
		if id != "job-1" {
			return scheduler.ErrJobNotFound(id)
		}
		return nil
	}
	h := NewMux(svc)

	body, ctype := generateForm(t, map[string]string{"prompt": "p"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var job types.JobResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "queued", job.State)
	assert.False(t, job.ArtifactReady)

	rr = doJSON(t, h, http.MethodGet, "/jobs/job-1", &job)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "succeeded", job.State)
	assert.True(t, job.ArtifactReady)
	assert.EqualValues(t, 7, job.Seed)
	assert.NotZero(t, job.StartedAt)
	assert.NotZero(t, job.FinishedAt)

	rr = doJSON(t, h, http.MethodGet, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodDelete, "/jobs/job-1", &job)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = doJSON(t, h, http.MethodDelete, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobResultEndpoint(t *testing.T) {
	svc := defaultMock()
	svc.jobResult = func(id string) (io.ReadCloser, int64, error) {
		return io.NopCloser(strings.NewReader("video")), 5, nil
	}
	h := NewMux(svc)
	rr := doJSON(t, h, http.MethodGet, "/jobs/job-1/result", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "video", rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
}

func TestStatusEndpoint(t *testing.T) {
	svc := defaultMock()
	svc.status = types.StatusResponse{QueueLen: 2, QueueDepth: 10}
	h := NewMux(svc)
	var st types.StatusResponse
	rr := doJSON(t, h, http.MethodGet, "/status", &st)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, st.QueueLen)
	assert.Equal(t, 10, st.QueueDepth)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(defaultMock())
	// Prime the counters so the series exists in the scrape.
	doJSON(t, h, http.MethodGet, "/health", nil)
	rr := doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vidgend_http_requests_total")
}

func TestSecurityHeaders(t *testing.T) {
	h := NewMux(defaultMock())
	rr := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}
