package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vango-dev/hmr/pkg/protocol"
)

// History errors.
var (
	// ErrGap is returned when the requested generations are no longer
	// retained, or lie in the future.
	ErrGap = errors.New("history: generation not retained")

	// ErrOutOfOrder is returned when an appended batch does not follow the
	// latest generation.
	ErrOutOfOrder = errors.New("history: batch does not follow the latest generation")

	// ErrNotFound is returned by backends for a missing blob.
	ErrNotFound = errors.New("history: blob not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("history: closed")
)

// Store is an update history.
type Store interface {
	// Append adds the batch of the generation after Latest.
	Append(ctx context.Context, u *protocol.UpdateBatch) error

	// Since returns every batch after generation, oldest first.
	Since(ctx context.Context, generation uint64) ([]*protocol.UpdateBatch, error)

	// Latest returns the newest generation.
	Latest(ctx context.Context) (uint64, error)

	Close() error
}

// Backend stores encoded batches by generation.
type Backend interface {
	Put(ctx context.Context, generation uint64, data []byte) error
	Get(ctx context.Context, generation uint64) ([]byte, error)
	Delete(ctx context.Context, generation uint64) error
	// List returns the stored generations in any order.
	List(ctx context.Context) ([]uint64, error)
}

// Log implements Store over a Backend.
type Log struct {
	backend Backend
	limit   int

	mu     sync.Mutex
	gens   []uint64 // retained, ascending
	floor  uint64   // generation preceding gens[0]
	closed bool
}

var _ Store = (*Log)(nil)

// Open builds a Log over backend. Existing batches are picked up; without
// any, the history starts at base. limit caps the retained batches (zero
// keeps everything).
func Open(ctx context.Context, backend Backend, base uint64, limit int) (*Log, error) {
	gens, err := backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	l := &Log{backend: backend, limit: limit, floor: base}
	if len(gens) > 0 {
		// Keep the newest contiguous run only.
		start := len(gens) - 1
		for start > 0 && gens[start-1] == gens[start]-1 {
			start--
		}
		l.gens = gens[start:]
		l.floor = l.gens[0] - 1
	}
	if err := l.trim(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) latest() uint64 {
	if len(l.gens) == 0 {
		return l.floor
	}
	return l.gens[len(l.gens)-1]
}

// Append stores u. Its generation must be Latest()+1.
func (l *Log) Append(ctx context.Context, u *protocol.UpdateBatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if want := l.latest() + 1; u.Generation != want {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, u.Generation, want)
	}
	if err := l.backend.Put(ctx, u.Generation, protocol.EncodeUpdate(u)); err != nil {
		return fmt.Errorf("history: put %d: %w", u.Generation, err)
	}
	l.gens = append(l.gens, u.Generation)
	return l.trim(ctx)
}

// trim enforces the retention limit. Callers hold l.mu.
func (l *Log) trim(ctx context.Context) error {
	for l.limit > 0 && len(l.gens) > l.limit {
		oldest := l.gens[0]
		if err := l.backend.Delete(ctx, oldest); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("history: delete %d: %w", oldest, err)
		}
		l.gens = l.gens[1:]
		l.floor = oldest
	}
	return nil
}

// Since returns the batches after generation. It fails with ErrGap when a
// needed batch was discarded or generation is newer than Latest.
func (l *Log) Since(ctx context.Context, generation uint64) ([]*protocol.UpdateBatch, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if generation < l.floor || generation > l.latest() {
		floor, latest := l.floor, l.latest()
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %d outside [%d, %d]", ErrGap, generation, floor, latest)
	}
	var want []uint64
	for _, g := range l.gens {
		if g > generation {
			want = append(want, g)
		}
	}
	l.mu.Unlock()

	out := make([]*protocol.UpdateBatch, 0, len(want))
	for _, g := range want {
		data, err := l.backend.Get(ctx, g)
		if errors.Is(err, ErrNotFound) {
			// Trimmed concurrently.
			return nil, fmt.Errorf("%w: %d", ErrGap, g)
		}
		if err != nil {
			return nil, fmt.Errorf("history: get %d: %w", g, err)
		}
		u, err := protocol.DecodeUpdate(data)
		if err != nil {
			return nil, fmt.Errorf("history: decode %d: %w", g, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// Latest returns the newest generation.
func (l *Log) Latest(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.latest(), nil
}

// Len returns the number of retained batches.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.gens)
}

// Close releases the log. The backend's data stays in place.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
