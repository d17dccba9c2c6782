package residency

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidgend/internal/capability"
	"vidgend/internal/engine"
	"vidgend/internal/registry"
)

type fakeEngine struct {
	closed atomic.Bool
}

func (f *fakeEngine) Infer(ctx context.Context, req engine.InferRequest, onFrame func([]byte) error) error {
	return nil
}
func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeLoader struct {
	mu      sync.Mutex
	loads   int
	engines []*fakeEngine
	fail    error
	delay   time.Duration
}

func (l *fakeLoader) Load(ctx context.Context, cp registry.Checkpoint, device int) (engine.Engine, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	l.loads++
	e := &fakeEngine{}
	l.engines = append(l.engines, e)
	return e, nil
}

func (l *fakeLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// buildCatalog creates on-disk checkpoint dirs with the given footprints.
func buildCatalog(t *testing.T, footprints map[capability.TaskID]int) *registry.Catalog {
	t.Helper()
	root := t.TempDir()
	for task, mb := range footprints {
		dir := filepath.Join(root, registry.DirName(task))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "weights.bin"), make([]byte, mb<<20), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	reg, err := capability.NewRegistry("")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cat, err := registry.LoadDir(root, reg)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	return cat
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestAcquireLoadsOnce(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{capability.TaskTI2V: 2})
	ld := &fakeLoader{}
	m := New(Config{}, cat, ld, testLogger())

	h, err := m.Acquire(context.Background(), capability.TaskTI2V)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h.Engine == nil || h.FootprintMB != 2 {
		t.Fatalf("handle: %+v", h)
	}
	m.Release(h)

	h2, err := m.Acquire(context.Background(), capability.TaskTI2V)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if ld.loadCount() != 1 {
		t.Fatalf("model reloaded: %d loads", ld.loadCount())
	}
	if h2.Engine != h.Engine {
		t.Fatal("resident engine not reused")
	}
	m.Release(h2)
}

func TestAcquireIsExclusive(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{capability.TaskTI2V: 1})
	m := New(Config{}, cat, &fakeLoader{}, testLogger())

	h, err := m.Acquire(context.Background(), capability.TaskTI2V)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan *Handle)
	go func() {
		h2, err := m.Acquire(context.Background(), capability.TaskTI2V)
		if err != nil {
			panic(err)
		}
		acquired <- h2
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire got the handle while held")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(h)
	select {
	case h2 := <-acquired:
		m.Release(h2)
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{capability.TaskTI2V: 1})
	m := New(Config{}, cat, &fakeLoader{}, testLogger())

	h, err := m.Acquire(context.Background(), capability.TaskTI2V)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, capability.TaskTI2V); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestLRUEviction(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{
		capability.TaskT2V:  1,
		capability.TaskI2V:  1,
		capability.TaskTI2V: 1,
	})
	ld := &fakeLoader{}
	m := New(Config{MaxResident: 2}, cat, ld, testLogger())
	ctx := context.Background()

	hA, _ := m.Acquire(ctx, capability.TaskT2V)
	m.Release(hA)
	hB, _ := m.Acquire(ctx, capability.TaskI2V)
	m.Release(hB)
	// Touch A so B becomes least recently used.
	hA, _ = m.Acquire(ctx, capability.TaskT2V)
	m.Release(hA)

	hC, err := m.Acquire(ctx, capability.TaskTI2V)
	if err != nil {
		t.Fatalf("acquire third: %v", err)
	}
	m.Release(hC)

	if m.Resident() != 2 {
		t.Fatalf("resident: %d", m.Resident())
	}
	if !hB.Engine.(*fakeEngine).closed.Load() {
		t.Fatal("LRU engine not closed on eviction")
	}
	if hA.Engine.(*fakeEngine).closed.Load() {
		t.Fatal("recently used engine evicted")
	}

	// A is still warm: reacquiring it must not trigger a load.
	before := ld.loadCount()
	h, err := m.Acquire(ctx, capability.TaskT2V)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	m.Release(h)
	if ld.loadCount() != before {
		t.Fatal("warm model was reloaded")
	}
}

func TestBusyModelNeverEvicted(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{
		capability.TaskT2V: 1,
		capability.TaskI2V: 1,
	})
	m := New(Config{MaxResident: 1}, cat, &fakeLoader{}, testLogger())

	hA, err := m.Acquire(context.Background(), capability.TaskT2V)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan *Handle)
	go func() {
		h, err := m.Acquire(context.Background(), capability.TaskI2V)
		if err != nil {
			panic(err)
		}
		acquired <- h
	}()

	// While A is busy there is no eviction candidate, so B must wait.
	select {
	case <-acquired:
		t.Fatal("acquired second model by evicting a busy one")
	case <-time.After(50 * time.Millisecond):
	}
	if hA.Engine.(*fakeEngine).closed.Load() {
		t.Fatal("busy engine closed")
	}

	m.Release(hA)
	select {
	case hB := <-acquired:
		m.Release(hB)
	case <-time.After(time.Second):
		t.Fatal("waiter never ran after release")
	}
	if !hA.Engine.(*fakeEngine).closed.Load() {
		t.Fatal("idle model not evicted to make room")
	}
}

func TestBudgetEviction(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{
		capability.TaskT2V: 6,
		capability.TaskI2V: 6,
	})
	// Both fit the count cap but not the budget together.
	m := New(Config{MaxResident: 2, BudgetMB: 10, MarginMB: 1}, cat, &fakeLoader{}, testLogger())
	ctx := context.Background()

	hA, err := m.Acquire(ctx, capability.TaskT2V)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(hA)
	hB, err := m.Acquire(ctx, capability.TaskI2V)
	if err != nil {
		t.Fatalf("acquire second: %v", err)
	}
	m.Release(hB)

	if m.Resident() != 1 {
		t.Fatalf("budget not enforced: %d resident", m.Resident())
	}
	if !hA.Engine.(*fakeEngine).closed.Load() {
		t.Fatal("over-budget model not evicted")
	}
}

func TestOversizedModelFailsFast(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{capability.TaskT2V: 10})
	// 10 MB model can never fit a 5 MB budget, even with the table empty.
	m := New(Config{BudgetMB: 5}, cat, &fakeLoader{}, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), capability.TaskT2V)
		done <- err
	}()
	select {
	case err := <-done:
		if !IsLoad(err) {
			t.Fatalf("expected load error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acquire parked instead of failing fast")
	}
	if m.Resident() != 0 {
		t.Fatalf("nothing should be resident: %d", m.Resident())
	}

	// The margin counts against the budget the same way.
	m2 := New(Config{BudgetMB: 10, MarginMB: 1}, cat, &fakeLoader{}, testLogger())
	if _, err := m2.Acquire(context.Background(), capability.TaskT2V); !IsLoad(err) {
		t.Fatalf("expected load error with margin, got %v", err)
	}
}

func TestLoadFailureRollsBack(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{capability.TaskTI2V: 1})
	boom := errors.New("cuda init failed")
	ld := &fakeLoader{fail: boom}
	m := New(Config{}, cat, ld, testLogger())

	_, err := m.Acquire(context.Background(), capability.TaskTI2V)
	if !IsLoad(err) {
		t.Fatalf("expected load error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if m.Resident() != 0 {
		t.Fatalf("placeholder not rolled back: %d resident", m.Resident())
	}

	// The failure is not sticky.
	ld.mu.Lock()
	ld.fail = nil
	ld.mu.Unlock()
	h, err := m.Acquire(context.Background(), capability.TaskTI2V)
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	m.Release(h)
}

func TestMissingCheckpoint(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{capability.TaskTI2V: 1})
	m := New(Config{}, cat, &fakeLoader{}, testLogger())
	_, err := m.Acquire(context.Background(), capability.TaskS2V)
	if !IsLoad(err) {
		t.Fatalf("expected load error for missing checkpoint, got %v", err)
	}
}

func TestCloseEvictsEverything(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{
		capability.TaskT2V: 1,
		capability.TaskI2V: 1,
	})
	m := New(Config{MaxResident: 2}, cat, &fakeLoader{}, testLogger())
	ctx := context.Background()

	hA, _ := m.Acquire(ctx, capability.TaskT2V)
	m.Release(hA)
	hB, _ := m.Acquire(ctx, capability.TaskI2V)
	m.Release(hB)

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Resident() != 0 {
		t.Fatalf("resident after close: %d", m.Resident())
	}
	if !hA.Engine.(*fakeEngine).closed.Load() || !hB.Engine.(*fakeEngine).closed.Load() {
		t.Fatal("engines not closed on shutdown")
	}
	if _, err := m.Acquire(ctx, capability.TaskT2V); err == nil {
		t.Fatal("acquire after close must fail")
	}
}

// Hammer the manager from many goroutines and check the residency cap is
// never exceeded and every acquired handle is exclusive.
func TestConcurrentAcquireInvariants(t *testing.T) {
	cat := buildCatalog(t, map[capability.TaskID]int{
		capability.TaskT2V:  1,
		capability.TaskI2V:  1,
		capability.TaskTI2V: 1,
	})
	m := New(Config{MaxResident: 2}, cat, &fakeLoader{}, testLogger())
	tasks := []capability.TaskID{capability.TaskT2V, capability.TaskI2V, capability.TaskTI2V}

	var inUse [3]atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				ti := (g + i) % len(tasks)
				h, err := m.Acquire(context.Background(), tasks[ti])
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if inUse[ti].Add(1) != 1 {
					t.Errorf("handle for %s held twice", tasks[ti])
				}
				if r := m.Resident(); r > 2 {
					t.Errorf("resident %d exceeds cap", r)
				}
				inUse[ti].Add(-1)
				m.Release(h)
			}
		}(g)
	}
	wg.Wait()
}
