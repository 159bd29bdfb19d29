package chess

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/chess/rules"
	"github.com/park285/cheese-relay/internal/chess/uci"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
)

const (
	DefaultBestMoveDepth = 16
	DefaultAnalyzeDepth  = 14
	DefaultMultiPV       = 3

	minDepth   = 1
	maxDepth   = 30
	maxMultiPV = 10
)

type Config struct {
	BinaryPath string
	MaxProcs   int
	// Timeout bounds one request including the wait for a free process.
	// Zero derives it from the search depth.
	Timeout time.Duration
	Threads int
	HashMB  int
}

// Engine answers best-move and analysis requests with a fresh engine
// process per request. A zero Engine (or one built without a binary) is
// disabled and fails every call with domain.ErrEngineUnavailable.
type Engine struct {
	pool *uci.Pool
	cfg  Config
}

func NewEngine(cfg Config) (*Engine, error) {
	path := strings.TrimSpace(cfg.BinaryPath)
	if path == "" {
		obslog.L().Info("engine_disabled", zap.String("reason", "STOCKFISH_PATH not set"))
		return &Engine{cfg: cfg}, nil
	}
	pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: path, MaxProcs: cfg.MaxProcs})
	if err != nil {
		if errors.Is(err, domain.ErrEngineUnavailable) {
			obslog.L().Warn("engine_disabled", zap.String("path", path), zap.Error(err))
			return &Engine{cfg: cfg}, nil
		}
		return nil, err
	}
	obslog.L().Info("engine_ready", zap.String("path", path), zap.Int("max_procs", pool.MaxProcs()))
	return &Engine{pool: pool, cfg: cfg}, nil
}

// Available reports whether an engine binary is configured.
func (e *Engine) Available() bool { return e != nil && e.pool != nil }

// Spawned reports how many engine processes this adapter has started.
func (e *Engine) Spawned() int64 {
	if !e.Available() {
		return 0
	}
	return e.pool.Spawned()
}

func (e *Engine) Close() error {
	if !e.Available() {
		return nil
	}
	return e.pool.Close()
}

type BestMoveRequest struct {
	FEN   string
	Depth int
}

type BestMoveResult struct {
	Move string
	// Forced is set when the position had a single legal move and no
	// engine was consulted.
	Forced bool
	EvalCP *int
	Mate   *int
}

type AnalyzeRequest struct {
	FEN     string
	Depth   int
	MultiPV int
}

// Line is one ranked variation. EvalCP and Mate are from White's point of
// view and never both set.
type Line struct {
	Rank      int
	Move      *string
	EvalCP    *int
	Mate      *int
	Depth     int
	Principal []string
}

type AnalyzeResult struct {
	BestMove *string
	EvalCP   *int
	Mate     *int
	Lines    []Line
}

func (e *Engine) BestMove(ctx context.Context, req BestMoveRequest) (BestMoveResult, error) {
	if !e.Available() {
		return BestMoveResult{}, domain.ErrEngineUnavailable
	}
	pos, err := rules.ParsePosition(req.FEN)
	if err != nil {
		return BestMoveResult{}, err
	}
	legal, err := rules.LegalMoves(pos.FEN)
	if err != nil {
		return BestMoveResult{}, err
	}
	switch len(legal) {
	case 0:
		return BestMoveResult{}, fmt.Errorf("%w: %s", domain.ErrNoLegalMoves, pos.FEN)
	case 1:
		return BestMoveResult{Move: legal[0], Forced: true}, nil
	}

	depth := clamp(req.Depth, DefaultBestMoveDepth, minDepth, maxDepth)
	resp, err := e.search(ctx, pos.FEN, depth, 1)
	if err != nil {
		return BestMoveResult{}, err
	}
	if resp.BestMove == "" {
		return BestMoveResult{}, fmt.Errorf("%w: engine returned no move for %s", domain.ErrNoLegalMoves, pos.FEN)
	}

	move := strings.ToLower(resp.BestMove)
	if !slices.Contains(legal, move) {
		return BestMoveResult{}, fmt.Errorf("%w: %q is not legal in %s", domain.ErrEngineResponse, resp.BestMove, pos.FEN)
	}

	out := BestMoveResult{Move: move}
	if len(resp.Lines) > 0 {
		out.EvalCP, out.Mate = whiteScore(resp.Lines[0].Score, pos.Turn)
	}
	return out, nil
}

func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	if !e.Available() {
		return AnalyzeResult{}, domain.ErrEngineUnavailable
	}
	pos, err := rules.ParsePosition(req.FEN)
	if err != nil {
		return AnalyzeResult{}, err
	}

	depth := clamp(req.Depth, DefaultAnalyzeDepth, minDepth, maxDepth)
	multiPV := clamp(req.MultiPV, DefaultMultiPV, 1, maxMultiPV)
	resp, err := e.search(ctx, pos.FEN, depth, multiPV)
	if err != nil {
		return AnalyzeResult{}, err
	}

	var out AnalyzeResult
	for i, l := range resp.Lines {
		if i >= multiPV {
			break
		}
		line := Line{Rank: i, Depth: l.Depth, Principal: l.Principal}
		if l.Move != "" {
			mv := l.Move
			line.Move = &mv
		}
		line.EvalCP, line.Mate = whiteScore(l.Score, pos.Turn)
		out.Lines = append(out.Lines, line)
	}
	if resp.BestMove != "" {
		best := resp.BestMove
		out.BestMove = &best
	} else if len(out.Lines) > 0 {
		out.BestMove = out.Lines[0].Move
	}
	if len(out.Lines) > 0 {
		out.EvalCP, out.Mate = out.Lines[0].EvalCP, out.Lines[0].Mate
	}
	return out, nil
}

// search runs one request on its own process. The caller's cancellation is
// ignored so a departing client does not abort the search; the timeout
// still applies.
func (e *Engine) search(ctx context.Context, fen string, depth, multiPV int) (uci.SearchResponse, error) {
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = uci.SearchTimeout(depth)
	}
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	session, err := e.pool.Acquire(reqCtx, uci.Options{
		Threads: e.cfg.Threads,
		HashMB:  e.cfg.HashMB,
		MultiPV: multiPV,
	})
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrEngineTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrEngineTimeout, err)
		}
		return uci.SearchResponse{}, err
	}
	defer e.pool.Release(session)

	resp, err := session.Search(reqCtx, uci.SearchRequest{FEN: fen, Depth: depth})
	if err != nil {
		obslog.L().Warn("engine_search_failed",
			zap.String("fen", fen),
			zap.Int("depth", depth),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return uci.SearchResponse{}, err
	}
	obslog.L().Debug("engine_search_done",
		zap.String("fen", fen),
		zap.Int("depth", depth),
		zap.Int("multipv", multiPV),
		zap.String("best", resp.BestMove),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// whiteScore converts a side-to-move score to White's point of view.
func whiteScore(s uci.Score, turn string) (cp *int, mate *int) {
	sign := 1
	if turn == "black" {
		sign = -1
	}
	if s.IsMate {
		v := s.Mate * sign
		return nil, &v
	}
	v := s.CP * sign
	return &v, nil
}

func clamp(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
