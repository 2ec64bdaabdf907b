// Package ws carries engine sessions over websockets. One connection is one
// session: a HELLO/WELCOME handshake, then POSE and EDIT inbound, chunk
// frames and JSON notices outbound.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chunkforge.dev/internal/engine"
	"chunkforge.dev/internal/protocol"
)

type Server struct {
	engine *engine.Engine
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, logger *log.Logger) *Server {
	s := &Server{
		engine: e,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. The engine closing the outbox ends the session;
		// closing the conn kicks the reader out of its blocking read.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case f, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"),
							time.Now().Add(time.Second))
						conn.Close()
						return
					}
					kind := websocket.TextMessage
					if f.Binary {
						kind = websocket.BinaryMessage
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(kind, f.Data); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.ProtocolVersion != protocol.Version {
				continue
			}
			switch base.Type {
			case protocol.TypePose:
				var pose protocol.PoseMsg
				if err := json.Unmarshal(msg, &pose); err != nil {
					continue
				}
				s.engine.Poses() <- engine.PoseEnvelope{SessionID: sessionID, Pose: pose}
			case protocol.TypeEdit:
				var edit protocol.EditMsg
				if err := json.Unmarshal(msg, &edit); err != nil {
					continue
				}
				s.engine.Edits() <- engine.EditEnvelope{SessionID: sessionID, Edit: edit}
			}
		}

		// Cleanup.
		s.engine.Leave() <- sessionID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out <-chan engine.Frame) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "player"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ < 0 {
		maxQ = 0
	}
	if maxQ > 1024 {
		maxQ = 1024
	}

	respCh := make(chan engine.JoinResponse, 1)
	s.engine.Join() <- engine.JoinRequest{
		Name:     hello.ClientName,
		Mode:     hello.Mode,
		MaxQueue: maxQ,
		Resp:     respCh,
	}
	resp := <-respCh
	if resp.ErrCode != "" {
		_ = writeJSON(conn, protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            resp.ErrCode,
			Message:         resp.ErrMessage,
		})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, resp.ErrCode), time.Now().Add(time.Second))
		return "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.engine.Leave() <- resp.Welcome.SessionID
		return "", nil
	}

	return resp.Welcome.SessionID, resp.Out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
