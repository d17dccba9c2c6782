// Package residency owns the table of models resident in accelerator memory.
// It is the only component allowed to load or unload weights. All table
// mutations happen under a single mutex; waiters park on a broadcast channel
// that is replaced on every state change so Acquire can also honor its
// context.
package residency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgend/internal/capability"
	"vidgend/internal/engine"
	"vidgend/internal/registry"
)

// Handle is an exclusive lease on one resident model. Borrowed by a job for
// the duration of its run; owned by the Manager.
type Handle struct {
	Task        capability.TaskID
	Device      int
	Engine      engine.Engine
	LoadedAt    time.Time
	FootprintMB int

	lastUsed time.Time
	inUse    bool
	loading  bool
}

// Config tunes one Manager, which governs one accelerator device.
type Config struct {
	// Device is the accelerator this manager governs.
	Device int
	// MaxResident caps how many models may be resident at once. Default 1.
	MaxResident int
	// BudgetMB bounds total estimated footprint of resident models.
	// 0 means unlimited.
	BudgetMB int
	// MarginMB is memory kept free under the budget.
	MarginMB int
}

// Manager tracks resident models for one device.
type Manager struct {
	cfg     Config
	catalog *registry.Catalog
	loader  engine.Loader
	log     zerolog.Logger

	mu      sync.Mutex
	handles map[capability.TaskID]*Handle
	usedMB  int
	wait    chan struct{}
	closed  bool

	loadsTotal     uint64
	evictionsTotal uint64
}

// New builds a Manager over a checkpoint catalog and a weight loader.
func New(cfg Config, catalog *registry.Catalog, loader engine.Loader, log zerolog.Logger) *Manager {
	if cfg.MaxResident <= 0 {
		cfg.MaxResident = 1
	}
	return &Manager{
		cfg:     cfg,
		catalog: catalog,
		loader:  loader,
		log:     log.With().Int("device", cfg.Device).Logger(),
		handles: make(map[capability.TaskID]*Handle),
		wait:    make(chan struct{}),
	}
}

// notifyLocked wakes every waiter. Callers hold the mutex.
func (m *Manager) notifyLocked() {
	close(m.wait)
	m.wait = make(chan struct{})
}

// Acquire returns an exclusive handle for task, loading the model first if it
// is not resident. Blocks while the handle is held by another job or while
// capacity is occupied by busy models; unblocks on release, eviction, or ctx.
func (m *Manager) Acquire(ctx context.Context, task capability.TaskID) (*Handle, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errors.New("residency manager closed")
		}
		if h, ok := m.handles[task]; ok {
			if !h.loading && !h.inUse {
				h.inUse = true
				h.lastUsed = time.Now()
				m.mu.Unlock()
				return h, nil
			}
			// Resident but loading or busy. A handle in use is never
			// evicted or shared, so park until the state changes.
			ch := m.wait
			m.mu.Unlock()
			if err := waitOn(ctx, ch); err != nil {
				return nil, err
			}
			continue
		}

		cp, ok := m.catalog.Get(task)
		if !ok {
			m.mu.Unlock()
			return nil, ErrLoad(string(task), errors.New("checkpoint not found on disk"))
		}
		// A model that exceeds the budget on an empty device can never fit;
		// waiting for evictions would park forever. Fail the job instead.
		if m.cfg.BudgetMB > 0 && cp.FootprintMB+m.cfg.MarginMB > m.cfg.BudgetMB {
			m.mu.Unlock()
			return nil, ErrLoad(string(task), fmt.Errorf(
				"model needs %d MB but device budget is %d MB with %d MB margin",
				cp.FootprintMB, m.cfg.BudgetMB, m.cfg.MarginMB))
		}

		if victim := m.victimLocked(cp.FootprintMB); victim != nil {
			m.removeLocked(victim)
			m.evictionsTotal++
			m.mu.Unlock()
			m.log.Info().Str("task", string(victim.Task)).Int("footprint_mb", victim.FootprintMB).Msg("evicting model")
			metricEvictions.Inc()
			metricResident.Dec()
			if victim.Engine != nil {
				_ = victim.Engine.Close()
			}
			continue
		}
		if !m.fitsLocked(cp.FootprintMB) {
			// At capacity and everything resident is busy. Wait for a
			// release rather than evicting under a running job.
			ch := m.wait
			m.mu.Unlock()
			if err := waitOn(ctx, ch); err != nil {
				return nil, err
			}
			continue
		}

		// Reserve the slot with a loading placeholder, then load outside
		// the critical section; loading can take minutes.
		h := &Handle{
			Task:        task,
			Device:      m.cfg.Device,
			FootprintMB: cp.FootprintMB,
			lastUsed:    time.Now(),
			inUse:       true,
			loading:     true,
		}
		m.handles[task] = h
		m.usedMB += h.FootprintMB
		m.mu.Unlock()

		m.log.Info().Str("task", string(task)).Int("footprint_mb", cp.FootprintMB).Msg("loading model")
		eng, err := m.loader.Load(ctx, cp, m.cfg.Device)

		m.mu.Lock()
		if err != nil {
			delete(m.handles, task)
			m.usedMB -= h.FootprintMB
			if m.usedMB < 0 {
				m.usedMB = 0
			}
			m.notifyLocked()
			m.mu.Unlock()
			m.log.Error().Err(err).Str("task", string(task)).Msg("model load failed")
			return nil, ErrLoad(string(task), err)
		}
		h.Engine = eng
		h.loading = false
		h.LoadedAt = time.Now()
		h.lastUsed = h.LoadedAt
		m.loadsTotal++
		m.notifyLocked()
		m.mu.Unlock()
		metricLoads.Inc()
		metricResident.Inc()
		return h, nil
	}
}

// Release returns a handle to the table. Does not unload.
func (m *Manager) Release(h *Handle) {
	m.mu.Lock()
	h.inUse = false
	h.lastUsed = time.Now()
	m.notifyLocked()
	m.mu.Unlock()
}

// fitsLocked reports whether a new model of reqMB fits within both the
// resident-count cap and the memory budget.
func (m *Manager) fitsLocked(reqMB int) bool {
	if len(m.handles) >= m.cfg.MaxResident {
		return false
	}
	if m.cfg.BudgetMB > 0 && m.usedMB+reqMB+m.cfg.MarginMB > m.cfg.BudgetMB {
		return false
	}
	return true
}

// victimLocked picks the least-recently-used idle handle when reqMB does not
// fit. Handles in use or still loading are never chosen.
func (m *Manager) victimLocked(reqMB int) *Handle {
	if m.fitsLocked(reqMB) {
		return nil
	}
	var lru *Handle
	for _, h := range m.handles {
		if h.inUse || h.loading {
			continue
		}
		if lru == nil || h.lastUsed.Before(lru.lastUsed) {
			lru = h
		}
	}
	return lru
}

func (m *Manager) removeLocked(h *Handle) {
	delete(m.handles, h.Task)
	m.usedMB -= h.FootprintMB
	if m.usedMB < 0 {
		m.usedMB = 0
	}
	m.notifyLocked()
}

// Resident returns the number of resident models (including loading ones).
func (m *Manager) Resident() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Close evicts everything and rejects further acquires. Blocks until busy
// handles are released.
func (m *Manager) Close() error {
	for {
		m.mu.Lock()
		m.closed = true
		var victim *Handle
		for _, h := range m.handles {
			if !h.inUse && !h.loading {
				victim = h
				break
			}
		}
		if victim != nil {
			m.removeLocked(victim)
			m.mu.Unlock()
			metricResident.Dec()
			if victim.Engine != nil {
				_ = victim.Engine.Close()
			}
			continue
		}
		if len(m.handles) == 0 {
			m.mu.Unlock()
			return nil
		}
		ch := m.wait
		m.mu.Unlock()
		<-ch
	}
}

func waitOn(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
