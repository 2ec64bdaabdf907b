// Package protocol defines the client/server wire format: JSON text frames
// for control messages and a compact binary frame for chunk data.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello       = "HELLO"
	TypeWelcome     = "WELCOME"
	TypePose        = "POSE"
	TypeEdit        = "EDIT"
	TypeAck         = "ACK"
	TypeChunkUnload = "CHUNK_UNLOAD"
	TypeError       = "ERROR"
)

// Session modes.
const (
	ModePlayer   = "PLAYER"
	ModeObserver = "OBSERVER"
)

// Edit actions.
const (
	ActionPlace  = "PLACE"
	ActionRemove = "REMOVE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
