package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Mode            string            `json:"mode,omitempty"` // PLAYER (default) or OBSERVER
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Mode            string      `json:"mode"`
	WorldID         string      `json:"world_id"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    DigestRef   `json:"block_palette"`
	BiomesDigest    string      `json:"biomes_digest"`
	Spawn           [3]int      `json:"spawn"`
}

type WorldParams struct {
	Seed           int64 `json:"seed"`
	ChunkSide      int   `json:"chunk_side"`
	MaxY           int   `json:"max_y"`
	WaterLevel     int   `json:"water_level"`
	RenderDistance int   `json:"render_distance"`
	TickMs         int   `json:"tick_ms"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// POSE (client -> server): the viewer moved. Only the player session may
// send it. Streaming keys off x/z; y rides along for consumers that care
// about altitude.
type PoseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Z               int    `json:"z"`
}

// EDIT (client -> server): place or remove one block.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Action          string `json:"action"` // PLACE or REMOVE
	Pos             [3]int `json:"pos"`
	Block           string `json:"block,omitempty"` // palette name, PLACE only
}

// ACK (server -> client): the fate of one EDIT.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// CHUNK_UNLOAD (server -> client): chunks that left the render distance.
type ChunkUnloadMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Chunks          []ChunkRef `json:"chunks"`
}

type ChunkRef struct {
	CX int32 `json:"cx"`
	CZ int32 `json:"cz"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
