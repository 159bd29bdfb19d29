package relaydto

import "encoding/json"

// Inbound frame types accepted on a channel socket.
const (
	FrameMove   = "move"
	FrameAIMove = "ai_move"
	FrameEvent  = "event"
	FramePing   = "ping"
)

// InboundFrame is what clients send on a channel socket.
type InboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MoveCommand is the payload of a "move" frame. Move is accepted as an
// alias of UCI.
type MoveCommand struct {
	FEN  string `json:"fen"`
	UCI  string `json:"uci"`
	Move string `json:"move,omitempty"`
}

func (m MoveCommand) Notation() string {
	if m.UCI != "" {
		return m.UCI
	}
	return m.Move
}

// AIMoveCommand is the payload of an "ai_move" frame.
type AIMoveCommand struct {
	FEN   string `json:"fen"`
	Depth int    `json:"depth,omitempty"`
}

// GameMove is broadcast on a game channel after a move was accepted.
type GameMove struct {
	GameID  string `json:"game_id,omitempty"`
	Before  string `json:"before,omitempty"`
	FEN     string `json:"fen"`
	UCI     string `json:"uci"`
	SAN     string `json:"san,omitempty"`
	Turn    string `json:"turn,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Method  string `json:"method,omitempty"`
	By      string `json:"by,omitempty"`
	AI      bool   `json:"ai,omitempty"`
}
