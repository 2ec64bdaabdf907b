package stream

import (
	"chunkforge.dev/internal/world/chunk"
)

// SaveStore is the persistence surface the saver writes through.
type SaveStore interface {
	Save(p *chunk.Payload) error
}

type saveReq struct {
	payload *chunk.Payload
	version uint64
}

type saveResult struct {
	key     chunk.Key
	version uint64
	err     error
	// payload travels back on failure so the controller can park it and
	// retry instead of losing the edits.
	payload *chunk.Payload
}

// saver serializes chunk writes off the engine goroutine. Requests carry
// payload snapshots, so the engine keeps mutating the live chunk while the
// write is in flight.
func (c *Controller) saver() {
	defer c.wg.Done()
	for req := range c.saveQ {
		err := c.store.Save(req.payload)
		res := saveResult{key: req.payload.Key, version: req.version, err: err}
		if err != nil {
			res.payload = req.payload
		}
		c.saveDone <- res
	}
}
