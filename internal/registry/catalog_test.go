package registry

import (
	"os"
	"path/filepath"
	"testing"

	"vidgend/internal/capability"
)

func newReg(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry("")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func writeCheckpoint(t *testing.T, root string, task capability.TaskID, bytes int) {
	t.Helper()
	dir := filepath.Join(root, DirName(task))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "weights.safetensors"), make([]byte, bytes), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
}

func TestDirName(t *testing.T) {
	if got := DirName(capability.TaskTI2V); got != "Wan2.2-TI2V-5B" {
		t.Fatalf("DirName: %s", got)
	}
	if got := DirName(capability.TaskT2V); got != "Wan2.2-T2V-A14B" {
		t.Fatalf("DirName: %s", got)
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeCheckpoint(t, root, capability.TaskTI2V, 3<<20)
	writeCheckpoint(t, root, capability.TaskT2V, 1<<20)
	// An unrelated directory must be ignored.
	if err := os.MkdirAll(filepath.Join(root, "not-a-checkpoint"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	c, err := LoadDir(root, newReg(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Tasks()) != 2 {
		t.Fatalf("tasks: %v", c.Tasks())
	}
	cp, ok := c.Get(capability.TaskTI2V)
	if !ok {
		t.Fatal("ti2v checkpoint missing")
	}
	if cp.FootprintMB != 3 {
		t.Fatalf("footprint: %d", cp.FootprintMB)
	}
	if filepath.Base(cp.Path) != "Wan2.2-TI2V-5B" {
		t.Fatalf("path: %s", cp.Path)
	}
	if _, ok := c.Get(capability.TaskI2V); ok {
		t.Fatal("i2v should be absent")
	}
}

func TestLoadDirMissingRoot(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope"), newReg(t)); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestLoadDirEmptyRoot(t *testing.T) {
	c, err := LoadDir(t.TempDir(), newReg(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Tasks()) != 0 {
		t.Fatalf("expected empty catalog, got %v", c.Tasks())
	}
}

func TestFootprintMinimumOne(t *testing.T) {
	root := t.TempDir()
	// Empty checkpoint directory still reports at least 1 MB so budget
	// checks see a non-zero cost.
	if err := os.MkdirAll(filepath.Join(root, DirName(capability.TaskTI2V)), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	c, err := LoadDir(root, newReg(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cp, ok := c.Get(capability.TaskTI2V)
	if !ok || cp.FootprintMB != 1 {
		t.Fatalf("footprint: %+v ok=%v", cp, ok)
	}
}
