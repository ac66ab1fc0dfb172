package lens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateGrid is returned by Board.Add for a name already in use.
var ErrDuplicateGrid = errors.New("duplicate grid")

// GridError reports the failure of one grid on a Board.
type GridError struct {
	Grid string
	Err  error
}

// Error implements error.
func (e GridError) Error() string {
	return fmt.Sprintf("grid %q: %v", e.Grid, e.Err)
}

// Unwrap returns the underlying error.
func (e GridError) Unwrap() error { return e.Err }

// Board runs several independent reconcilers, typically one per on-screen
// grid, that share a session. Each grid has its own subscription and sink and
// fails independently of the others.
type Board struct {
	mu      sync.Mutex
	grids   map[string]*Reconciler
	order   []string
	started bool
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{grids: make(map[string]*Reconciler)}
}

// Add registers a reconciler under name. Grids must be added before Start.
func (b *Board) Add(name string, r *Reconciler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	if _, ok := b.grids[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateGrid, name)
	}
	b.grids[name] = r
	b.order = append(b.order, name)
	return nil
}

// Grid returns the reconciler registered under name.
func (b *Board) Grid(name string) (*Reconciler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.grids[name]
	return r, ok
}

// Names returns the grid names in the order they were added.
func (b *Board) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Start starts every grid concurrently and waits for all of them. Grids that
// fail to start are reported as GridErrors joined into the returned error;
// the others keep running.
func (b *Board) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	names := make([]string, len(b.order))
	copy(names, b.order)
	b.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []GridError
	)
	wg.Add(len(names))
	for _, name := range names {
		r := b.grids[name]
		go func(name string, r *Reconciler) {
			defer wg.Done()
			if err := r.Start(ctx); err != nil {
				emu.Lock()
				errs = append(errs, GridError{Grid: name, Err: err})
				emu.Unlock()
			}
		}(name, r)
	}
	wg.Wait()

	if len(errs) == 0 {
		return nil
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Grid < errs[j].Grid })
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

// States returns the current state of every grid.
func (b *Board) States() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]State, len(b.grids))
	for name, r := range b.grids {
		out[name] = r.State()
	}
	return out
}

// Errors returns the last error of every grid that has one, ordered by name.
func (b *Board) Errors() []GridError {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []GridError
	for name, r := range b.grids {
		if err := r.LastError(); err != nil {
			out = append(out, GridError{Grid: name, Err: err})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Grid < out[j].Grid })
	return out
}

// Close closes every grid.
func (b *Board) Close() error {
	b.mu.Lock()
	rs := make([]*Reconciler, 0, len(b.order))
	for _, name := range b.order {
		rs = append(rs, b.grids[name])
	}
	b.mu.Unlock()

	for _, r := range rs {
		_ = r.Close() //nolint:errcheck // Close always returns nil
	}
	return nil
}
