package capability

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a video resolution in pixels. The wire format is "width*height",
// matching the checkpoint configuration convention (e.g. "1280*704").
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return strconv.Itoa(s.Width) + "*" + strconv.Itoa(s.Height)
}

// ParseSize parses a "width*height" string.
func ParseSize(v string) (Size, error) {
	parts := strings.Split(strings.TrimSpace(v), "*")
	if len(parts) != 2 {
		return Size{}, fmt.Errorf("invalid size %q: want width*height", v)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Size{}, fmt.Errorf("invalid size width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Size{}, fmt.Errorf("invalid size height %q: %w", parts[1], err)
	}
	if w <= 0 || h <= 0 {
		return Size{}, fmt.Errorf("invalid size %q: dimensions must be positive", v)
	}
	return Size{Width: w, Height: h}, nil
}
