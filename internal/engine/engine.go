// Package engine runs the game loop: one goroutine owns the world, the
// session table, and the viewer position. Gateways talk to it over typed
// channels; it talks back by pushing encoded frames into per-session
// outboxes. The single player session controls the viewer and may edit;
// observer sessions receive the same chunk stream read-only.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"chunkforge.dev/internal/persistence/eventlog"
	"chunkforge.dev/internal/persistence/worlddb"
	"chunkforge.dev/internal/protocol"
	"chunkforge.dev/internal/world"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/stream"
)

// statsEveryTicks spaces the world_stats samples; at the default tick rate
// this is one sample every ten seconds.
const statsEveryTicks = 40

// Frame is one outbound websocket message, already encoded.
type Frame struct {
	Binary bool
	Data   []byte
}

type JoinRequest struct {
	Name     string
	Mode     string
	MaxQueue int
	Resp     chan JoinResponse
}

// JoinResponse carries either an error code or the welcome plus the
// session's outbox. The engine owns the outbox and closes it when the
// session ends.
type JoinResponse struct {
	ErrCode    string
	ErrMessage string
	Welcome    protocol.WelcomeMsg
	Out        <-chan Frame
}

type PoseEnvelope struct {
	SessionID string
	Pose      protocol.PoseMsg
}

type EditEnvelope struct {
	SessionID string
	Edit      protocol.EditMsg
}

type session struct {
	id   string
	name string
	mode string
	out  chan Frame
}

type Engine struct {
	world   *world.World
	worlds  *worlddb.DB
	worldID string
	events  *eventlog.Log
	log     *log.Logger

	join  chan JoinRequest
	leave chan string
	poses chan PoseEnvelope
	edits chan EditEnvelope
	stop  chan struct{}
	done  chan struct{}

	// Loop-owned state.
	sessions  map[string]*session
	playerID  string
	viewerX   int
	viewerZ   int
	hasViewer bool
	sent      map[chunk.Key]bool
	enc       *zstd.Encoder
	tick      uint64
}

// New wires an engine around an opened world. worlds may be nil when no
// stats database is in play (tools, tests).
func New(w *world.World, worlds *worlddb.DB, worldID string, events *eventlog.Log, logger *log.Logger) *Engine {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return &Engine{
		world:    w,
		worlds:   worlds,
		worldID:  worldID,
		events:   events,
		log:      logger,
		join:     make(chan JoinRequest, 8),
		leave:    make(chan string, 8),
		poses:    make(chan PoseEnvelope, 64),
		edits:    make(chan EditEnvelope, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
		sent:     make(map[chunk.Key]bool),
		enc:      enc,
	}
}

func (e *Engine) Join() chan<- JoinRequest   { return e.join }
func (e *Engine) Leave() chan<- string       { return e.leave }
func (e *Engine) Poses() chan<- PoseEnvelope { return e.poses }
func (e *Engine) Edits() chan<- EditEnvelope { return e.edits }

// Run drives the loop until Stop or context cancellation.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.world.Config().Stream.TickMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(e.done)
	defer e.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case req := <-e.join:
			e.handleJoin(req)
		case id := <-e.leave:
			e.handleLeave(id)
		case env := <-e.poses:
			e.handlePose(env)
		case env := <-e.edits:
			e.handleEdit(env)
		case <-ticker.C:
			e.step()
		}
	}
}

// Stop ends the loop and waits for it to wind down.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) teardown() {
	for id, s := range e.sessions {
		close(s.out)
		delete(e.sessions, id)
	}
	e.recordStats()
	_ = e.enc.Close()
}

func (e *Engine) handleJoin(req JoinRequest) {
	mode := req.Mode
	if mode == "" {
		mode = protocol.ModePlayer
	}
	if mode != protocol.ModePlayer && mode != protocol.ModeObserver {
		req.Resp <- JoinResponse{ErrCode: protocol.ErrProtoBadRequest, ErrMessage: "unknown session mode"}
		return
	}
	if mode == protocol.ModePlayer && e.playerID != "" {
		req.Resp <- JoinResponse{ErrCode: protocol.ErrWorldBusy, ErrMessage: "a player session is already active"}
		return
	}

	cfg := e.world.Config()
	span := 2*cfg.Stream.RenderDistance + 1
	capacity := span*span*2 + 32
	if req.MaxQueue > capacity {
		capacity = req.MaxQueue
	}

	s := &session{
		id:   uuid.NewString(),
		name: req.Name,
		mode: mode,
		out:  make(chan Frame, capacity),
	}
	e.sessions[s.id] = s

	var spawn [3]int
	spawn[0], spawn[1], spawn[2] = e.world.SpawnPosition()
	if mode == protocol.ModePlayer {
		e.playerID = s.id
		if !e.hasViewer {
			e.viewerX, e.viewerZ = spawn[0], spawn[2]
			e.hasViewer = true
		}
	}

	req.Resp <- JoinResponse{
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       s.id,
			Mode:            mode,
			WorldID:         e.worldID,
			WorldParams: protocol.WorldParams{
				Seed:           e.world.Seed(),
				ChunkSide:      cfg.Chunk.Side,
				MaxY:           cfg.Chunk.MaxY,
				WaterLevel:     cfg.Chunk.WaterLevel,
				RenderDistance: cfg.Stream.RenderDistance,
				TickMs:         cfg.Stream.TickMs,
			},
			BlockPalette: protocol.DigestRef{Digest: block.PaletteDigest(), Count: block.Count()},
			BiomesDigest: e.world.Registry().Digest,
			Spawn:        spawn,
		},
		Out: s.out,
	}

	// Late joiners catch up on everything currently streamed.
	for key := range e.sent {
		if p, ok := e.world.ChunkPayload(key); ok {
			e.push(s, e.chunkFrame(p))
		}
	}

	_ = e.events.Emit("session_joined", map[string]any{
		"session": s.id, "mode": mode, "name": req.Name,
	})
	e.log.Printf("engine: session %s joined as %s (%q)", s.id, mode, req.Name)
}

func (e *Engine) handleLeave(id string) {
	s := e.sessions[id]
	if s == nil {
		return
	}
	delete(e.sessions, id)
	close(s.out)
	if id == e.playerID {
		e.playerID = ""
	}
	_ = e.events.Emit("session_left", map[string]any{"session": id})
	e.log.Printf("engine: session %s left", id)
}

func (e *Engine) handlePose(env PoseEnvelope) {
	s := e.sessions[env.SessionID]
	if s == nil {
		return
	}
	if env.SessionID != e.playerID {
		e.push(s, e.textFrame(protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrBadRequest,
			Message:         "only the player session moves the viewer",
		}))
		return
	}
	e.viewerX, e.viewerZ = env.Pose.X, env.Pose.Z
	e.hasViewer = true
}

func (e *Engine) handleEdit(env EditEnvelope) {
	s := e.sessions[env.SessionID]
	if s == nil {
		return
	}
	edit := env.Edit
	ack := func(accepted bool, code, msg string) {
		e.push(s, e.textFrame(protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          edit.ReqID,
			Accepted:        accepted,
			Code:            code,
			Message:         msg,
		}))
	}

	if env.SessionID != e.playerID {
		ack(false, protocol.ErrBadRequest, "observer sessions cannot edit")
		return
	}

	var err error
	switch edit.Action {
	case protocol.ActionPlace:
		id, ok := block.FromName(edit.Block)
		if !ok {
			ack(false, protocol.ErrBadRequest, "unknown block "+edit.Block)
			return
		}
		err = e.world.PlaceBlock(edit.Pos[0], edit.Pos[1], edit.Pos[2], id)
	case protocol.ActionRemove:
		err = e.world.RemoveBlock(edit.Pos[0], edit.Pos[1], edit.Pos[2])
	default:
		ack(false, protocol.ErrProtoBadRequest, "unknown edit action "+edit.Action)
		return
	}

	if err != nil {
		code := protocol.ErrInvalidTarget
		if errors.Is(err, stream.ErrNotResident) {
			code = protocol.ErrNotLoaded
		}
		ack(false, code, err.Error())
		return
	}
	ack(true, "", "")

	// All sessions converge by re-receiving the edited chunk.
	key := chunk.KeyOfWorld(edit.Pos[0], edit.Pos[2], e.world.Config().Chunk.Side)
	if p, ok := e.world.ChunkPayload(key); ok {
		e.broadcast(e.chunkFrame(p))
	}
}

func (e *Engine) step() {
	e.tick++
	if e.hasViewer {
		res, err := e.world.Update(e.viewerX, e.viewerZ)
		if err != nil {
			e.log.Printf("engine: world update: %v", err)
			return
		}
		for _, p := range res.Loaded {
			e.broadcast(e.chunkFrame(p))
			e.sent[p.Key] = true
		}
		if len(res.Unloaded) > 0 {
			refs := make([]protocol.ChunkRef, 0, len(res.Unloaded))
			for _, k := range res.Unloaded {
				delete(e.sent, k)
				refs = append(refs, protocol.ChunkRef{CX: k.CX, CZ: k.CZ})
			}
			e.broadcast(e.textFrame(protocol.ChunkUnloadMsg{
				Type:            protocol.TypeChunkUnload,
				ProtocolVersion: protocol.Version,
				Chunks:          refs,
			}))
		}
	}
	if e.tick%statsEveryTicks == 0 {
		e.recordStats()
	}
}

func (e *Engine) recordStats() {
	if e.worlds == nil {
		return
	}
	st := e.world.Stats()
	e.worlds.RecordStats(e.worldID, worlddb.StatsRow{
		Generated: st.Generated,
		FromDisk:  st.FromDisk,
		Degraded:  st.Degraded,
		Evicted:   st.Evicted,
		Saved:     st.Saved,
		CacheLen:  st.CacheLen,
		Anomalies: e.world.Anomalies(),
	})
}

func (e *Engine) chunkFrame(p *chunk.Payload) Frame {
	rec, err := chunk.EncodeRecord(p)
	if err != nil {
		e.log.Printf("engine: encoding chunk %s: %v", p.Key, err)
		return Frame{}
	}
	compressed := e.enc.EncodeAll(rec, make([]byte, 0, len(rec)/2))
	return Frame{Binary: true, Data: protocol.EncodeChunkFrame(p.Key, compressed)}
}

func (e *Engine) textFrame(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		e.log.Printf("engine: encoding %T: %v", v, err)
		return Frame{}
	}
	return Frame{Data: b}
}

// broadcast fans a frame out to every session. A session that cannot keep
// up is dropped rather than allowed to stall the loop.
func (e *Engine) broadcast(f Frame) {
	if f.Data == nil {
		return
	}
	for id, s := range e.sessions {
		if !e.push(s, f) {
			e.log.Printf("engine: session %s too slow, dropping it", id)
			delete(e.sessions, id)
			close(s.out)
			if id == e.playerID {
				e.playerID = ""
			}
		}
	}
}

func (e *Engine) push(s *session, f Frame) bool {
	if f.Data == nil {
		return true
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}
