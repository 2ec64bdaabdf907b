// bot is a headless client for load-checking a running server: it joins,
// walks the viewer in a straight line, validates every chunk frame it
// receives, and reports streaming throughput. With -edit it also drops a
// stone marker every few ticks to exercise the edit path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"chunkforge.dev/internal/protocol"
	"chunkforge.dev/internal/world/chunk"
)

type counters struct {
	chunks  atomic.Uint64
	unloads atomic.Uint64
	acks    atomic.Uint64
	badAcks atomic.Uint64
	badRecs atomic.Uint64
}

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name    = flag.String("name", "bot", "client name")
		observe = flag.Bool("observe", false, "join as a read-only observer instead of the player")
		speed   = flag.Int("speed", 2, "viewer blocks per tick")
		edit    = flag.Bool("edit", false, "place a stone marker every 16 ticks")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	mode := protocol.ModePlayer
	if *observe {
		mode = protocol.ModeObserver
	}
	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Mode:            mode,
	}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("handshake refused: %s", msg)
	}
	logger.Printf("WELCOME session=%s mode=%s world=%s seed=%d spawn=%v",
		welcome.SessionID, welcome.Mode, welcome.WorldID, welcome.WorldParams.Seed, welcome.Spawn)

	var c counters
	if mode == protocol.ModePlayer {
		go drive(conn, welcome, *speed, *edit, &c, logger)
	} else {
		go report(welcome.Spawn[0], welcome.Spawn[2], &c, logger)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		logger.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("connection closed: %v", err)
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := checkChunkFrame(dec, msg); err != nil {
				c.badRecs.Add(1)
				logger.Printf("bad chunk frame: %v", err)
				continue
			}
			c.chunks.Add(1)
		case websocket.TextMessage:
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeChunkUnload:
				var u protocol.ChunkUnloadMsg
				if err := json.Unmarshal(msg, &u); err == nil {
					c.unloads.Add(uint64(len(u.Chunks)))
				}
			case protocol.TypeAck:
				var ack protocol.AckMsg
				if err := json.Unmarshal(msg, &ack); err != nil {
					continue
				}
				if ack.Accepted {
					c.acks.Add(1)
				} else {
					c.badAcks.Add(1)
					logger.Printf("edit %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
				}
			case protocol.TypeError:
				var e protocol.ErrorMsg
				if err := json.Unmarshal(msg, &e); err == nil {
					logger.Printf("server error: %s %s", e.Code, e.Message)
				}
			}
		}
	}
}

func checkChunkFrame(dec *zstd.Decoder, msg []byte) error {
	key, compressed, err := protocol.DecodeChunkFrame(msg)
	if err != nil {
		return err
	}
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	p, err := chunk.DecodeRecord(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if p.Key != key {
		return fmt.Errorf("frame key %s does not match record key %s", key, p.Key)
	}
	return nil
}

// drive owns the connection's write side: one pose per tick, a marker every
// 16 ticks when enabled, and a throughput line every few seconds.
func drive(conn *websocket.Conn, welcome protocol.WelcomeMsg, speed int, edit bool, c *counters, logger *log.Logger) {
	interval := time.Duration(welcome.WorldParams.TickMs) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastReport := time.Now()

	x, z := welcome.Spawn[0], welcome.Spawn[2]
	markerY := welcome.WorldParams.WaterLevel + 30
	if markerY >= welcome.WorldParams.MaxY {
		markerY = welcome.WorldParams.MaxY - 1
	}

	tick := 0
	for range ticker.C {
		tick++
		x += speed
		if err := conn.WriteJSON(protocol.PoseMsg{
			Type: protocol.TypePose, ProtocolVersion: protocol.Version, X: x, Z: z,
		}); err != nil {
			return
		}
		if edit && tick%16 == 0 {
			if err := conn.WriteJSON(protocol.EditMsg{
				Type: protocol.TypeEdit, ProtocolVersion: protocol.Version,
				ReqID:  fmt.Sprintf("bot-%d", tick),
				Action: protocol.ActionPlace,
				Pos:    [3]int{x, markerY, z},
				Block:  "STONE",
			}); err != nil {
				return
			}
		}
		if time.Since(lastReport) >= 5*time.Second {
			logger.Printf("pos=(%d,%d) chunks=%d unloads=%d acks=%d rejected=%d bad_frames=%d",
				x, z, c.chunks.Load(), c.unloads.Load(), c.acks.Load(), c.badAcks.Load(), c.badRecs.Load())
			lastReport = time.Now()
		}
	}
}

// report is the observer-mode counterpart of drive: counters only.
func report(x, z int, c *counters, logger *log.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		logger.Printf("observing near (%d,%d): chunks=%d unloads=%d bad_frames=%d",
			x, z, c.chunks.Load(), c.unloads.Load(), c.badRecs.Load())
	}
}
