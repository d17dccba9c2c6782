// Package gateway wires the serving path together: validation, admission,
// residency, pipeline and artifact staging behind one façade consumed by the
// HTTP layer.
package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"vidgend/internal/artifact"
	"vidgend/internal/capability"
	"vidgend/internal/registry"
	"vidgend/internal/residency"
	"vidgend/internal/scheduler"
	"vidgend/internal/validate"
	"vidgend/pkg/types"
)

// Gateway composes the serving components. One instance per process; no
// package-level state, so tests build as many as they like.
type Gateway struct {
	reg       *capability.Registry
	catalog   *registry.Catalog
	validator *validate.Validator
	sched     *scheduler.Scheduler
	store     *artifact.Store
	devices   []*residency.Manager
	log       zerolog.Logger
	startTime time.Time
}

// New assembles a gateway. The scheduler must already carry the same device
// managers passed here.
func New(
	reg *capability.Registry,
	catalog *registry.Catalog,
	validator *validate.Validator,
	sched *scheduler.Scheduler,
	store *artifact.Store,
	devices []*residency.Manager,
	log zerolog.Logger,
) *Gateway {
	return &Gateway{
		reg:       reg,
		catalog:   catalog,
		validator: validator,
		sched:     sched,
		store:     store,
		devices:   devices,
		log:       log,
		startTime: time.Now(),
	}
}

// DefaultTask returns the task id used when a request names none.
func (g *Gateway) DefaultTask() string { return string(g.reg.DefaultTask()) }

// Tasks lists the known task ids.
func (g *Gateway) Tasks() []string {
	ids := g.reg.IDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// SupportedSizes lists the allowed sizes of a task in wire form.
func (g *Gateway) SupportedSizes(task string) ([]string, error) {
	sizes, err := g.reg.SupportedSizes(capability.TaskID(task))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(sizes))
	for i, s := range sizes {
		out[i] = s.String()
	}
	return out, nil
}

// GenerateResult carries a finished synchronous generation. Closing Video
// deletes the artifact: a synchronous client gets exactly one stream.
type GenerateResult struct {
	JobID string
	Seed  int64
	Video io.ReadCloser
	Size  int64
}

// Generate runs the full synchronous path: validate, admit, wait, stream.
// Validation failures are reported before any accelerator resource is
// touched. If the client goes away while waiting, the job is cancelled.
func (g *Gateway) Generate(ctx context.Context, raw validate.RawRequest) (*GenerateResult, error) {
	spec, err := g.validator.Validate(raw)
	if err != nil {
		return nil, err
	}
	job, err := g.sched.Submit(spec)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.Done():
	case <-ctx.Done():
		_ = g.sched.Cancel(job.ID)
		<-job.Done()
		return nil, ctx.Err()
	}
	snap, err := g.sched.Job(job.ID)
	if err != nil {
		return nil, err
	}
	switch snap.State {
	case scheduler.StateSucceeded:
		rc, size, err := g.openOnce(snap.Artifact)
		if err != nil {
			return nil, err
		}
		return &GenerateResult{JobID: snap.ID, Seed: snap.Seed, Video: rc, Size: size}, nil
	case scheduler.StateCancelled:
		return nil, context.Canceled
	default:
		if snap.Cause != nil {
			return nil, snap.Cause
		}
		return nil, errors.New("generation failed")
	}
}

// SubmitJob validates and enqueues without waiting.
func (g *Gateway) SubmitJob(raw validate.RawRequest) (scheduler.Snapshot, error) {
	spec, err := g.validator.Validate(raw)
	if err != nil {
		return scheduler.Snapshot{}, err
	}
	job, err := g.sched.Submit(spec)
	if err != nil {
		return scheduler.Snapshot{}, err
	}
	return g.sched.Job(job.ID)
}

// JobStatus returns the snapshot for id.
func (g *Gateway) JobStatus(id string) (scheduler.Snapshot, error) {
	return g.sched.Job(id)
}

// CancelJob requests cancellation of id.
func (g *Gateway) CancelJob(id string) error {
	return g.sched.Cancel(id)
}

// JobResult streams the artifact of a succeeded job. The artifact is deleted
// after the returned reader is closed; a second retrieval reports not found.
func (g *Gateway) JobResult(id string) (io.ReadCloser, int64, error) {
	snap, err := g.sched.Job(id)
	if err != nil {
		return nil, 0, err
	}
	if snap.State != scheduler.StateSucceeded {
		return nil, 0, artifact.ErrNotFound(id)
	}
	return g.openOnce(snap.Artifact)
}

func (g *Gateway) openOnce(ref artifact.Ref) (io.ReadCloser, int64, error) {
	rc, size, err := g.store.Open(ref)
	if err != nil {
		return nil, 0, err
	}
	return &deleteOnClose{ReadCloser: rc, store: g.store, ref: ref}, size, nil
}

// deleteOnClose removes the artifact once the stream is finished, bounding
// ephemeral storage to at most one retrieval per job.
type deleteOnClose struct {
	io.ReadCloser
	store  *artifact.Store
	ref    artifact.Ref
	closed bool
}

func (d *deleteOnClose) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.ReadCloser.Close()
	_ = d.store.Delete(d.ref)
	return err
}

// Ready reports whether the gateway can serve generations at all: at least
// one task has a checkpoint on disk.
func (g *Gateway) Ready() bool {
	return len(g.catalog.Tasks()) > 0
}

// Status builds the GET /status payload.
func (g *Gateway) Status() types.StatusResponse {
	resp := types.StatusResponse{
		QueueLen:       g.sched.QueueLen(),
		QueueDepth:     g.sched.QueueDepth(),
		UptimeSeconds:  int64(time.Since(g.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	for _, mgr := range g.devices {
		st := mgr.Status()
		dev := types.DeviceStatus{
			Device:         st.Device,
			MaxResident:    st.MaxResident,
			BudgetMB:       st.BudgetMB,
			MarginMB:       st.MarginMB,
			UsedMB:         st.UsedMB,
			LoadsTotal:     st.LoadsTotal,
			EvictionsTotal: st.EvictionsTotal,
		}
		for _, h := range st.Handles {
			dev.Models = append(dev.Models, types.ModelStatus{
				Task:        h.Task,
				State:       h.State,
				Device:      h.Device,
				LoadedAt:    h.LoadedAt,
				LastUsed:    h.LastUsed,
				FootprintMB: h.FootprintMB,
			})
		}
		resp.Devices = append(resp.Devices, dev)
	}
	return resp
}
