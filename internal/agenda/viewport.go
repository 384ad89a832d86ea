package agenda

import (
	"errors"
	"sync"
)

var (
	// ErrNotMeasured means the list has not laid out far enough to reach
	// the requested section yet.
	ErrNotMeasured = errors.New("agenda: target section not measured")
	// ErrOutOfRange means the section does not exist.
	ErrOutOfRange = errors.New("agenda: section out of range")
)

// Scroller moves a sectioned list so that (section, item) is in view.
type Scroller interface {
	ScrollToLocation(section, item int) error
}

// DefaultMeasured is how many sections a fresh list has laid out.
const DefaultMeasured = 20

// Viewport is the built-in Scroller. It models a lazily measured list:
// scrolling past the measured prefix fails with ErrNotMeasured. The failed
// attempt makes the list lay out up to the target, so a later attempt
// lands. Renderers may also report what they laid out through Measure.
type Viewport struct {
	mu       sync.Mutex
	initial  int
	total    int
	measured int
	section  int
	item     int
}

// NewViewport returns a viewport that measures initial sections up front.
func NewViewport(initial int) *Viewport {
	if initial < 0 {
		initial = 0
	}
	return &Viewport{initial: initial}
}

// Reset starts over for a list of total sections.
func (vp *Viewport) Reset(total int) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vp.total = total
	vp.measured = min(vp.initial, total)
	vp.section, vp.item = 0, 0
}

// Measure records that the first n sections have been laid out.
func (vp *Viewport) Measure(n int) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	n = min(n, vp.total)
	if n > vp.measured {
		vp.measured = n
	}
}

func (vp *Viewport) ScrollToLocation(section, item int) error {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	if section < 0 || section >= vp.total {
		return ErrOutOfRange
	}
	if section >= vp.measured {
		vp.measured = section + 1
		return ErrNotMeasured
	}
	vp.section, vp.item = section, item
	return nil
}

// Position returns the section and item in view.
func (vp *Viewport) Position() (section, item int) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.section, vp.item
}

// Measured returns the measured prefix length.
func (vp *Viewport) Measured() int {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.measured
}
