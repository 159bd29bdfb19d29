// Package relay turns inbound moves and events into channel broadcasts.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/chess"
	"github.com/park285/cheese-relay/internal/chess/rules"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/hub"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

// Phase is where a game channel is in handling a move.
type Phase int

const (
	PhaseAwaitingMove Phase = iota
	PhaseValidating
	PhaseBroadcasting
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseBroadcasting:
		return "broadcasting"
	case PhaseRejected:
		return "rejected"
	default:
		return "awaiting_move"
	}
}

// Publisher is the part of hub.Dispatcher the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, env domain.Envelope) (hub.Report, error)
	PublishDetached(channel string, env domain.Envelope)
}

// MoveEngine computes best moves.
type MoveEngine interface {
	BestMove(ctx context.Context, req chess.BestMoveRequest) (chess.BestMoveResult, error)
}

type MoveRequest struct {
	FEN string
	UCI string
	By  string
	AI  bool
}

type AIMoveRequest struct {
	FEN   string
	Depth int
	By    string
}

type MoveOutcome struct {
	Result rules.Result
	Report hub.Report
}

type Coordinator struct {
	pub    Publisher
	engine MoveEngine
	msgs   *msgcat.Catalog

	mu       sync.Mutex
	inflight map[string]Phase
	observe  func(channel string, p Phase)
}

type Option func(*Coordinator)

// WithMessages sets the catalog used for rejection texts.
func WithMessages(c *msgcat.Catalog) Option { return func(co *Coordinator) { co.msgs = c } }

// WithPhaseObserver registers fn to be called on every phase transition.
func WithPhaseObserver(fn func(channel string, p Phase)) Option {
	return func(co *Coordinator) { co.observe = fn }
}

func NewCoordinator(pub Publisher, engine MoveEngine, opts ...Option) *Coordinator {
	c := &Coordinator{pub: pub, engine: engine, inflight: make(map[string]Phase)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase reports the current phase of channel.
func (c *Coordinator) Phase(channel string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[channel]
}

func (c *Coordinator) enter(channel string, p Phase) {
	c.mu.Lock()
	if p == PhaseAwaitingMove {
		delete(c.inflight, channel)
	} else {
		c.inflight[channel] = p
	}
	observe := c.observe
	c.mu.Unlock()
	if observe != nil {
		observe(channel, p)
	}
}

// SubmitMove validates req and broadcasts the resulting position on
// channel. Rejected moves are never broadcast.
func (c *Coordinator) SubmitMove(ctx context.Context, channel string, req MoveRequest) (MoveOutcome, error) {
	res, env, err := c.validate(channel, req)
	if err != nil {
		return MoveOutcome{}, err
	}
	rep, err := c.pub.Publish(ctx, channel, env)
	c.enter(channel, PhaseAwaitingMove)
	if err != nil {
		return MoveOutcome{}, err
	}
	obslog.L().Info("move_broadcast",
		zap.String("channel", channel),
		zap.String("uci", res.Move),
		zap.String("by", req.By),
		zap.Int("delivered", rep.Delivered),
		zap.Int("failed", rep.Failed))
	return MoveOutcome{Result: res, Report: rep}, nil
}

// SubmitMoveDetached validates req and broadcasts in the background; the
// caller does not wait for delivery.
func (c *Coordinator) SubmitMoveDetached(channel string, req MoveRequest) (rules.Result, error) {
	res, env, err := c.validate(channel, req)
	if err != nil {
		return rules.Result{}, err
	}
	c.pub.PublishDetached(channel, env)
	c.enter(channel, PhaseAwaitingMove)
	return res, nil
}

func (c *Coordinator) validate(channel string, req MoveRequest) (rules.Result, domain.Envelope, error) {
	c.enter(channel, PhaseValidating)
	res, err := rules.Apply(req.FEN, req.UCI)
	if err != nil {
		c.enter(channel, PhaseRejected)
		c.enter(channel, PhaseAwaitingMove)
		obslog.L().Debug("move_rejected", zap.String("channel", channel), zap.String("uci", req.UCI), zap.Error(err))
		return rules.Result{}, domain.Envelope{}, err
	}

	c.enter(channel, PhaseBroadcasting)
	env, err := domain.NewEnvelope(domain.TypeGameMove, channel, relaydto.GameMove{
		GameID:  gameID(channel),
		Before:  res.Before,
		FEN:     res.FEN,
		UCI:     res.Move,
		SAN:     res.SAN,
		Turn:    res.Turn,
		Outcome: res.Outcome,
		Method:  res.Method,
		By:      req.By,
		AI:      req.AI,
	})
	if err != nil {
		c.enter(channel, PhaseAwaitingMove)
		return rules.Result{}, domain.Envelope{}, err
	}
	return res, env, nil
}

// SubmitAIMove asks the engine for a move and plays it through the same
// validation path as a human move.
func (c *Coordinator) SubmitAIMove(ctx context.Context, channel string, req AIMoveRequest) (MoveOutcome, error) {
	move, err := c.engineMove(ctx, req)
	if err != nil {
		return MoveOutcome{}, err
	}
	return c.playEngineMove(ctx, channel, req, move)
}

func (c *Coordinator) engineMove(ctx context.Context, req AIMoveRequest) (string, error) {
	if c.engine == nil {
		return "", domain.ErrEngineUnavailable
	}
	if _, err := rules.ParsePosition(req.FEN); err != nil {
		return "", err
	}
	best, err := c.engine.BestMove(ctx, chess.BestMoveRequest{FEN: req.FEN, Depth: req.Depth})
	if err != nil {
		return "", err
	}
	return best.Move, nil
}

// playEngineMove submits move as an AI move. The position has already
// parsed, so a malformed failure here is the engine's fault and never the
// sender's.
func (c *Coordinator) playEngineMove(ctx context.Context, channel string, req AIMoveRequest, move string) (MoveOutcome, error) {
	out, err := c.SubmitMove(ctx, channel, MoveRequest{FEN: req.FEN, UCI: move, By: req.By, AI: true})
	if errors.Is(err, domain.ErrMalformedInput) {
		err = fmt.Errorf("%w: %v", domain.ErrEngineResponse, err)
	}
	return out, err
}

// PublishEvent broadcasts an opaque JSON payload under kind.
func (c *Coordinator) PublishEvent(ctx context.Context, channel, kind string, payload json.RawMessage) (hub.Report, error) {
	env, err := domain.NewEnvelope(kind, channel, payload)
	if err != nil {
		return hub.Report{}, err
	}
	return c.pub.Publish(ctx, channel, env)
}

// PublishEventDetached is PublishEvent without waiting for delivery.
func (c *Coordinator) PublishEventDetached(channel, kind string, payload any) error {
	env, err := domain.NewEnvelope(kind, channel, payload)
	if err != nil {
		return err
	}
	c.pub.PublishDetached(channel, env)
	return nil
}

// HandleInbound processes one frame read from sender's socket. Domain
// failures are answered with a "rejected" frame to sender alone and nil is
// returned. A returned error means the frame violated the protocol and the
// connection should be closed.
func (c *Coordinator) HandleInbound(ctx context.Context, channel string, sender hub.Conn, subject string, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("inbound_panic", zap.String("channel", channel), zap.Any("panic", r))
			c.reject(sender, channel, fmt.Errorf("panic: %v", r), "")
			err = nil
		}
	}()

	var in relaydto.InboundFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}

	switch strings.ToLower(strings.TrimSpace(in.Type)) {
	case relaydto.FramePing:
		return c.reply(sender, domain.TypePong, channel, in.Payload)

	case relaydto.FrameEvent:
		if len(in.Payload) == 0 {
			return fmt.Errorf("%w: event without payload", domain.ErrMalformedInput)
		}
		_, err := c.PublishEvent(ctx, channel, domain.EventType(channel), in.Payload)
		return err

	case relaydto.FrameMove:
		if domain.KindOf(channel) != domain.KindGame {
			return fmt.Errorf("%w: move on non-game channel %s", domain.ErrMalformedInput, channel)
		}
		var cmd relaydto.MoveCommand
		if err := json.Unmarshal(in.Payload, &cmd); err != nil {
			return fmt.Errorf("%w: move payload: %v", domain.ErrMalformedInput, err)
		}
		_, err := c.SubmitMove(ctx, channel, MoveRequest{FEN: cmd.FEN, UCI: cmd.Notation(), By: subject})
		return c.settle(sender, channel, cmd.Notation(), err)

	case relaydto.FrameAIMove:
		if domain.KindOf(channel) != domain.KindGame {
			return fmt.Errorf("%w: ai_move on non-game channel %s", domain.ErrMalformedInput, channel)
		}
		var cmd relaydto.AIMoveCommand
		if err := json.Unmarshal(in.Payload, &cmd); err != nil {
			return fmt.Errorf("%w: ai_move payload: %v", domain.ErrMalformedInput, err)
		}
		req := AIMoveRequest{FEN: cmd.FEN, Depth: cmd.Depth, By: subject}
		move, err := c.engineMove(ctx, req)
		if err != nil {
			return c.settle(sender, channel, "", err)
		}
		_, err = c.playEngineMove(ctx, channel, req, move)
		return c.settle(sender, channel, move, err)

	default:
		return fmt.Errorf("%w: unknown frame type %q", domain.ErrMalformedInput, in.Type)
	}
}

// settle turns a move error into either a protocol violation or a reply.
func (c *Coordinator) settle(sender hub.Conn, channel, move string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsProtocolViolation(err) {
		return err
	}
	c.reject(sender, channel, err, move)
	return nil
}

func (c *Coordinator) reject(sender hub.Conn, channel string, cause error, move string) {
	rej := domain.Classify(cause)
	body := relaydto.ErrorResponse{
		Code:      rej.Code,
		Message:   c.msgs.Text("reject."+rej.Code, map[string]string{"Move": move}, rej.Message),
		Retryable: rej.Retryable,
	}
	if err := c.reply(sender, domain.TypeRejected, channel, body); err != nil {
		obslog.L().Debug("reject_reply_failed", zap.String("channel", channel), zap.String("conn_id", sender.ID()), zap.Error(err))
	}
}

func (c *Coordinator) reply(sender hub.Conn, kind, channel string, payload any) error {
	env, err := domain.NewEnvelope(kind, channel, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := sender.Send(frame); err != nil {
		return errors.Join(domain.ErrDelivery, err)
	}
	return nil
}

func gameID(channel string) string {
	if domain.KindOf(channel) != domain.KindGame {
		return ""
	}
	return strings.TrimPrefix(channel, "game:")
}
