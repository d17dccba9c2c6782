package genctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidgend/pkg/types"
)

// Client talks to a running vidgend server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a client. Generation can legitimately take many minutes,
// so the client itself carries no timeout; pass one via the server instead.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 0},
	}
}

// GenerateParams mirrors the multipart fields of POST /generate. Empty
// strings and nil pointers leave the server defaults in place.
type GenerateParams struct {
	Task        string
	Prompt      string
	Size        string
	FrameNum    *int
	Seed        *int64
	SampleSteps *int
	GuideScale  *float64
	ImagePath   string
}

// GenerateResult reports where the video landed and the generation identity.
type GenerateResult struct {
	OutPath string
	JobID   string
	Seed    string
	Bytes   int64
}

func (c *Client) get(path string, out any) error {
	resp, err := c.HTTP.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Tasks lists the tasks the server can serve.
func (c *Client) Tasks() (types.TasksResponse, error) {
	var out types.TasksResponse
	err := c.get("/tasks", &out)
	return out, err
}

// Sizes lists supported sizes for a task.
func (c *Client) Sizes(task string) (types.SizesResponse, error) {
	var out types.SizesResponse
	err := c.get("/sizes/"+task, &out)
	return out, err
}

// Status reports queue and per-device residency state.
func (c *Client) Status() (types.StatusResponse, error) {
	var out types.StatusResponse
	err := c.get("/status", &out)
	return out, err
}

// JobStatus fetches one job.
func (c *Client) JobStatus(id string) (types.JobResponse, error) {
	var out types.JobResponse
	err := c.get("/jobs/"+id, &out)
	return out, err
}

// CancelJob requests cancellation and returns the job as last seen.
func (c *Client) CancelJob(id string) (types.JobResponse, error) {
	var out types.JobResponse
	req, err := http.NewRequest(http.MethodDelete, c.BaseURL+"/jobs/"+id, nil)
	if err != nil {
		return out, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return out, decodeAPIError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// SubmitJob enqueues an asynchronous generation.
func (c *Client) SubmitJob(p GenerateParams) (types.JobResponse, error) {
	var out types.JobResponse
	body, contentType, err := buildForm(p)
	if err != nil {
		return out, err
	}
	resp, err := c.HTTP.Post(c.BaseURL+"/jobs", contentType, body)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return out, decodeAPIError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// Generate runs a synchronous generation and writes the video to outPath.
func (c *Client) Generate(p GenerateParams, outPath string) (GenerateResult, error) {
	var res GenerateResult
	body, contentType, err := buildForm(p)
	if err != nil {
		return res, err
	}
	resp, err := c.HTTP.Post(c.BaseURL+"/generate", contentType, body)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, decodeAPIError(resp)
	}
	res.JobID = resp.Header.Get("X-Job-Id")
	res.Seed = resp.Header.Get("X-Seed")
	if outPath == "" {
		outPath = fmt.Sprintf("video_%s.mp4", res.JobID)
	}
	res.OutPath = outPath
	res.Bytes, err = writeFile(outPath, resp.Body)
	return res, err
}

// FetchResult downloads a finished job's artifact to outPath.
func (c *Client) FetchResult(id, outPath string) (GenerateResult, error) {
	res := GenerateResult{JobID: id}
	resp, err := c.HTTP.Get(c.BaseURL + "/jobs/" + id + "/result")
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, decodeAPIError(resp)
	}
	if outPath == "" {
		outPath = fmt.Sprintf("video_%s.mp4", id)
	}
	res.OutPath = outPath
	res.Bytes, err = writeFile(outPath, resp.Body)
	return res, err
}

// WaitJob polls until the job reaches a terminal state.
func (c *Client) WaitJob(id string, interval time.Duration) (types.JobResponse, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		job, err := c.JobStatus(id)
		if err != nil {
			return job, err
		}
		switch job.State {
		case "succeeded", "failed", "cancelled":
			return job, nil
		}
		time.Sleep(interval)
	}
}

func buildForm(p GenerateParams) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"prompt": p.Prompt,
		"task":   p.Task,
		"size":   p.Size,
	}
	if p.FrameNum != nil {
		fields["frame_num"] = fmt.Sprintf("%d", *p.FrameNum)
	}
	if p.Seed != nil {
		fields["seed"] = fmt.Sprintf("%d", *p.Seed)
	}
	if p.SampleSteps != nil {
		fields["sample_steps"] = fmt.Sprintf("%d", *p.SampleSteps)
	}
	if p.GuideScale != nil {
		fields["guide_scale"] = fmt.Sprintf("%g", *p.GuideScale)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if p.ImagePath != "" {
		f, err := os.Open(p.ImagePath)
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		part, err := w.CreateFormFile("image", filepath.Base(p.ImagePath))
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func decodeAPIError(resp *http.Response) error {
	var e types.ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &e) == nil && e.Detail != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Detail)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
