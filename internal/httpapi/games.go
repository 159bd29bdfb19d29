package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/park285/cheese-relay/internal/chess/rules"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

// passThrough forwards an opaque JSON object to the backend.
func (s *Server) passThrough(w http.ResponseWriter, r *http.Request, call func(r *http.Request, body []byte) ([]byte, error)) {
	body, err := decodeRaw(r, w)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	out, err := call(r, body)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, func(r *http.Request, body []byte) ([]byte, error) {
		return s.d.Backend.CreateGame(r.Context(), authHeader(r), body)
	})
}

func (s *Server) gameChallenge(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, func(r *http.Request, body []byte) ([]byte, error) {
		return s.d.Backend.GenerateGameChallenge(r.Context(), authHeader(r), body)
	})
}

func (s *Server) generateChallenge(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, func(r *http.Request, body []byte) ([]byte, error) {
		return s.d.Backend.GenerateChallenge(r.Context(), authHeader(r), body)
	})
}

// gameMove records an opaque move and fans it out to the game channel.
func (s *Server) gameMove(w http.ResponseWriter, r *http.Request) {
	var req relaydto.GameMoveRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	out, err := s.d.Backend.RecordMove(r.Context(), authHeader(r), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := s.d.Coordinator.PublishEventDetached(domain.GameChannel(req.GameID), domain.TypeGameMove, req.Move); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) gameState(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimSpace(r.URL.Query().Get("game_id"))
	if gameID == "" {
		s.writeError(w, r, fmt.Errorf("%w: game_id is required", domain.ErrMalformedInput), nil)
		return
	}
	out, err := s.d.Backend.FetchState(r.Context(), authHeader(r), gameID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// chessMove validates the move, broadcasts the new position and records it.
func (s *Server) chessMove(w http.ResponseWriter, r *http.Request) {
	var req relaydto.ChessMoveRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	res, err := s.d.Coordinator.SubmitMoveDetached(domain.GameChannel(req.GameID), relay.MoveRequest{
		FEN: req.FEN,
		UCI: req.UCI,
		By:  req.UserID,
	})
	if err != nil {
		s.writeError(w, r, err, map[string]string{"Move": req.UCI})
		return
	}
	out, err := s.d.Backend.RecordChessMove(r.Context(), authHeader(r), relaydto.ChessRecordMove{
		GameID: req.GameID,
		UserID: req.UserID,
		UCI:    res.Move,
		FEN:    res.FEN,
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) chessMatchmake(w http.ResponseWriter, r *http.Request) {
	var req relaydto.ChessMatchmakeRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	// matches always start from the initial position
	out, err := s.d.Backend.Matchmake(r.Context(), authHeader(r), relaydto.ChessMatchmakeRequest{
		UserID: req.UserID,
		FEN:    rules.StartFEN,
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}
