package pipeline

import (
	"errors"
	"fmt"
	"time"

	"chunkforge.dev/internal/world/chunk"
)

// loadWorker reads chunks from the store. A corrupt record is deleted and
// reported as a miss so the chunk regenerates from seed.
func (o *Orchestrator) loadWorker() {
	for {
		var job genJob
		select {
		case <-o.quit:
			return
		case job = <-o.loadQ:
		}

		p, ok, err := o.store.Load(job.key)
		switch {
		case err != nil && errors.Is(err, chunk.ErrCorruptRecord):
			_ = o.events.Emit("corrupt_record", map[string]any{
				"chunk": job.key.String(), "error": err.Error(),
			})
			o.log.Printf("pipeline: discarding corrupt record for %s: %v", job.key, err)
			if derr := o.store.Delete(job.key); derr != nil {
				o.log.Printf("pipeline: deleting corrupt record for %s: %v", job.key, derr)
			}
			o.post(message{kind: msgLoadFailed, key: job.key, seq: job.seq, err: err})
		case err != nil:
			o.log.Printf("pipeline: loading %s: %v", job.key, err)
			o.post(message{kind: msgLoadFailed, key: job.key, seq: job.seq, err: err})
		case !ok:
			o.post(message{kind: msgLoadMiss, key: job.key, seq: job.seq})
		default:
			o.post(message{kind: msgLoaded, key: job.key, seq: job.seq, payload: p})
		}
	}
}

func (o *Orchestrator) terrainWorker() {
	for {
		var job genJob
		select {
		case <-o.quit:
			return
		case job = <-o.genQ:
		}
		o.runTerrain(job)
	}
}

func (o *Orchestrator) runTerrain(job genJob) {
	defer func() {
		if r := recover(); r != nil {
			o.post(message{kind: msgTerrainFailed, key: job.key, seq: job.seq, err: fmt.Errorf("panic: %v", r)})
		}
	}()
	start := time.Now()
	p := o.terrain.Generate(job.key)
	o.post(message{
		kind:    msgTerrainDone,
		key:     job.key,
		seq:     job.seq,
		payload: p,
		ms:      time.Since(start).Milliseconds(),
	})
}

// decorWorker stays parked until StartDecoration opens the gate, then
// consumes jobs in the order they were queued.
func (o *Orchestrator) decorWorker() {
	select {
	case <-o.quit:
		return
	case <-o.decorGate:
	}
	for {
		var job decorJob
		select {
		case <-o.quit:
			return
		case job = <-o.decorQ:
		}
		o.runDecor(job)
	}
}

func (o *Orchestrator) runDecor(job decorJob) {
	defer func() {
		if r := recover(); r != nil {
			o.post(message{kind: msgDecorFailed, key: job.key, seq: job.seq, err: fmt.Errorf("panic: %v", r)})
		}
	}()
	start := time.Now()
	res := o.decor.Generate(job.payload)
	o.post(message{
		kind:     msgDecorDone,
		key:      job.key,
		seq:      job.seq,
		payload:  job.payload,
		decorRes: res,
		ms:       time.Since(start).Milliseconds(),
	})
}
