package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Name            string     `json:"name"`
	Pos             [3]float64 `json:"pos"`
	Radius          int        `json:"radius"`
	ActiveRadius    int        `json:"active_radius,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	LevelGUID       string      `json:"level_guid"`
	Level           string      `json:"level"`
	LevelParams     LevelParams `json:"level_params"`
	Palette         DigestRef   `json:"palette"`
	// Radius is the streaming radius the server granted after clamping.
	Radius       int `json:"radius"`
	ActiveRadius int `json:"active_radius"`
}

type LevelParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	ChunkSize  [3]int `json:"chunk_size"`
	MinChunkY  int    `json:"min_chunk_y"`
	MaxChunkY  int    `json:"max_chunk_y"`
	MaxRadius  int    `json:"max_radius"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// CATALOG (server -> client): the cell palette, one key per cell id.
// For now the whole palette is sent as a single part.
type CatalogMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Name            string   `json:"name"`   // "cell_palette"
	Digest          string   `json:"digest"` // sha256 hex
	Part            int      `json:"part"`
	TotalParts      int      `json:"total_parts"`
	Data            []string `json:"data"`
}

// MOVE (client -> server). Radii are optional; zero keeps the current value.
type MoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
	Radius          int        `json:"radius,omitempty"`
	ActiveRadius    int        `json:"active_radius,omitempty"`
}

// EDIT (client -> server): set the cell at world cell coordinates Pos. The chunk holding it must be
// resident; the change reaches viewers as a fresh CHUNK_LOAD, failures as ERROR.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Cell            uint32 `json:"cell"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
