package relaydto

import "encoding/json"

type GameMoveRequest struct {
	GameID   string          `json:"game_id" validate:"required"`
	PlayerID string          `json:"player_id" validate:"required"`
	Move     json.RawMessage `json:"move" validate:"required"`
	State    json.RawMessage `json:"state,omitempty"`
}

type ChessMoveRequest struct {
	GameID string `json:"game_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	UCI    string `json:"uci" validate:"required"`
	FEN    string `json:"fen" validate:"required"`
}

// ChessRecordMove is what the backend receives after a chess move was validated.
type ChessRecordMove struct {
	GameID string `json:"game_id"`
	UserID string `json:"user_id"`
	UCI    string `json:"uci"`
	FEN    string `json:"fen"`
}

type ChessMatchmakeRequest struct {
	UserID string `json:"user_id" validate:"required"`
	FEN    string `json:"fen,omitempty"`
}

type ChessAIMoveRequest struct {
	FEN   string `json:"fen" validate:"required"`
	Depth int    `json:"depth,omitempty" validate:"omitempty,min=1,max=30"`
}

type ChessAIMoveResponse struct {
	UCI string `json:"uci"`
	FEN string `json:"fen,omitempty"`
}

type ChessAnalyzeRequest struct {
	FEN     string `json:"fen" validate:"required"`
	Depth   int    `json:"depth,omitempty" validate:"omitempty,min=1,max=30"`
	MultiPV int    `json:"multipv,omitempty" validate:"omitempty,min=1,max=10"`
}

type AnalysisLine struct {
	Rank   int      `json:"rank"`
	Move   *string  `json:"move"`
	EvalCP *int     `json:"eval_cp"`
	Mate   *int     `json:"mate"`
	Depth  int      `json:"depth,omitempty"`
	PV     []string `json:"pv,omitempty"`
}

type ChessAnalyzeResponse struct {
	BestMove *string        `json:"best_move"`
	EvalCP   *int           `json:"eval_cp"`
	Mate     *int           `json:"mate"`
	Top      []AnalysisLine `json:"top"`
}

type RoomMessageRequest struct {
	RoomID  string `json:"room_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type AIGenerateMessageRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Context string `json:"context" validate:"required"`
	Intent  string `json:"intent" validate:"required"`
}

type AISuggestReplyRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	LastMessage string `json:"last_message" validate:"required"`
	Tone        string `json:"tone,omitempty"`
}

type AIAnalyzeToneRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type AITranslateMessageRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	Message        string `json:"message" validate:"required"`
	TargetLanguage string `json:"target_language" validate:"required"`
}

type Health struct {
	Status      string `json:"status"`
	Channels    int    `json:"channels"`
	Connections int    `json:"connections"`
	Engine      bool   `json:"engine"`
	Instance    string `json:"instance,omitempty"`
}

type AICreateProfileRequest struct {
	Count            int    `json:"count,omitempty" validate:"omitempty,min=1,max=10"`
	RelationshipType string `json:"relationship_type,omitempty"`
}

// AIProfile is one generated profile as stored by the backend.
type AIProfile struct {
	Name             string   `json:"name"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	RelationshipType string   `json:"relationshipType"`
	Bio              string   `json:"bio,omitempty"`
	Interests        []string `json:"interests"`
	City             string   `json:"city,omitempty"`
	Country          string   `json:"country,omitempty"`
}

type EligibilityRequest struct {
	UserID           string `json:"user_id" validate:"required"`
	TargetID         string `json:"target_id" validate:"required"`
	AgeMin           int    `json:"age_min" validate:"min=0"`
	AgeMax           int    `json:"age_max" validate:"min=0"`
	Gender           string `json:"gender" validate:"required"`
	RelationshipType string `json:"relationship_type" validate:"required"`
	DistanceKM       *int   `json:"distance_km,omitempty"`
}

type MatchProposalRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
}

type MatchProposalResponse struct {
	Proposed bool   `json:"proposed"`
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
}
