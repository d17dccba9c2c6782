// Package registry locates model checkpoints on disk and estimates their
// accelerator memory footprint from on-disk weight size.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"vidgend/internal/capability"
	"vidgend/internal/common/fsutil"
)

// Checkpoint describes one task's weight directory.
type Checkpoint struct {
	Task        capability.TaskID
	Path        string
	FootprintMB int
}

// Catalog maps tasks to their checkpoints. Built once at startup.
type Catalog struct {
	byTask map[capability.TaskID]Checkpoint
}

// DirName returns the conventional checkpoint directory name for a task,
// e.g. "Wan2.2-TI2V-5B".
func DirName(task capability.TaskID) string {
	return "Wan2.2-" + strings.ToUpper(string(task))
}

// LoadDir scans root for checkpoint directories of the registry's tasks.
// Tasks without a checkpoint on disk are simply absent from the catalog;
// residency reports the miss when such a task is first requested.
func LoadDir(root string, reg *capability.Registry) (*Catalog, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.PathExists(abs) {
		return nil, fmt.Errorf("checkpoint root %s does not exist", abs)
	}
	c := &Catalog{byTask: make(map[capability.TaskID]Checkpoint)}
	for _, id := range reg.IDs() {
		p := filepath.Join(abs, DirName(id))
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() {
			continue
		}
		c.byTask[id] = Checkpoint{
			Task:        id,
			Path:        p,
			FootprintMB: dirSizeMB(p),
		}
	}
	return c, nil
}

// Get returns the checkpoint for a task, if present on disk.
func (c *Catalog) Get(task capability.TaskID) (Checkpoint, bool) {
	cp, ok := c.byTask[task]
	return cp, ok
}

// Tasks lists tasks with a checkpoint present, in no particular order.
func (c *Catalog) Tasks() []capability.TaskID {
	out := make([]capability.TaskID, 0, len(c.byTask))
	for id := range c.byTask {
		out = append(out, id)
	}
	return out
}

// dirSizeMB sums file sizes under dir in MB. Returns a conservative minimum
// of 1 on error so budget checks are never bypassed by an unknown size.
func dirSizeMB(dir string) int {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, e := d.Info(); e == nil {
			total += fi.Size()
		}
		return nil
	})
	mb := int(total / (1024 * 1024))
	if mb <= 0 {
		mb = 1
	}
	return mb
}
