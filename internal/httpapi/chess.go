package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/park285/cheese-relay/internal/chess"
	"github.com/park285/cheese-relay/internal/chess/rules"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

func (s *Server) bestMove(r *http.Request, req relaydto.ChessAIMoveRequest) (chess.BestMoveResult, error) {
	if s.d.Engine == nil {
		return chess.BestMoveResult{}, domain.ErrEngineUnavailable
	}
	if _, err := rules.ParsePosition(req.FEN); err != nil {
		return chess.BestMoveResult{}, err
	}
	return s.d.Engine.BestMove(r.Context(), chess.BestMoveRequest{FEN: req.FEN, Depth: req.Depth})
}

func (s *Server) chessAIMove(w http.ResponseWriter, r *http.Request) {
	var req relaydto.ChessAIMoveRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	best, err := s.bestMove(r, req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, relaydto.ChessAIMoveResponse{UCI: best.Move})
}

// chessGameAIMove also returns the position after the engine's move.
func (s *Server) chessGameAIMove(w http.ResponseWriter, r *http.Request) {
	var req relaydto.ChessAIMoveRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	best, err := s.bestMove(r, req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	res, err := rules.Apply(req.FEN, best.Move)
	if errors.Is(err, domain.ErrMalformedInput) {
		err = fmt.Errorf("%w: %v", domain.ErrEngineResponse, err)
	}
	if err != nil {
		s.writeError(w, r, err, map[string]string{"Move": best.Move})
		return
	}
	writeJSON(w, http.StatusOK, relaydto.ChessAIMoveResponse{UCI: res.Move, FEN: res.FEN})
}

func (s *Server) chessAnalyze(w http.ResponseWriter, r *http.Request) {
	var req relaydto.ChessAnalyzeRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if s.d.Engine == nil {
		s.writeError(w, r, domain.ErrEngineUnavailable, nil)
		return
	}
	res, err := s.d.Engine.Analyze(r.Context(), chess.AnalyzeRequest{FEN: req.FEN, Depth: req.Depth, MultiPV: req.MultiPV})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	out := relaydto.ChessAnalyzeResponse{
		BestMove: res.BestMove,
		EvalCP:   res.EvalCP,
		Mate:     res.Mate,
		Top:      make([]relaydto.AnalysisLine, 0, len(res.Lines)),
	}
	for _, l := range res.Lines {
		out.Top = append(out.Top, relaydto.AnalysisLine{
			Rank:   l.Rank,
			Move:   l.Move,
			EvalCP: l.EvalCP,
			Mate:   l.Mate,
			Depth:  l.Depth,
			PV:     l.Principal,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
