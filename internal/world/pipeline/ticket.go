package pipeline

import (
	"context"
	"sync"

	"chunkforge.dev/internal/world/chunk"
)

// Origin says where a resolved chunk came from.
type Origin uint8

const (
	// OriginGenerated is a fresh terrain plus decoration run.
	OriginGenerated Origin = iota
	// OriginDisk is a complete record loaded from the store.
	OriginDisk
	// OriginResumed is a terrain-only record whose decoration ran now.
	OriginResumed
)

func (o Origin) String() string {
	switch o {
	case OriginDisk:
		return "disk"
	case OriginResumed:
		return "resumed"
	default:
		return "generated"
	}
}

// Result is the terminal outcome of one chunk request.
type Result struct {
	Key     chunk.Key
	Payload *chunk.Payload
	Err     error

	Origin    Origin
	TerrainMS int64
	DecorMS   int64

	// Degraded marks a chunk delivered terrain-only because decoration
	// timed out or failed; its record stays resumable.
	Degraded bool
	// Forced marks a chunk whose decoration included a guaranteed
	// placement after a barren run.
	Forced bool
}

// Ticket tracks one in-flight chunk request. Concurrent requests for the
// same key share a ticket.
type Ticket struct {
	Key chunk.Key

	once sync.Once
	done chan struct{}
	res  Result
}

func newTicket(key chunk.Key) *Ticket {
	return &Ticket{Key: key, done: make(chan struct{})}
}

func (t *Ticket) resolve(r Result) {
	t.once.Do(func() {
		t.res = r
		close(t.done)
	})
}

// Done is closed when the request resolves.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome; ok is false while the ticket is unresolved.
func (t *Ticket) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until resolution or context cancellation.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
