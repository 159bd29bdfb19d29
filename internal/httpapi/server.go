// Package httpapi exposes the relay over HTTP: REST pass-through endpoints
// and the websocket channel endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/park285/cheese-relay/internal/auth"
	"github.com/park285/cheese-relay/internal/chess"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/hub"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/wsconn"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

const maxBodyBytes = 1 << 20

// Backend is the persistence API the REST handlers forward to.
type Backend interface {
	CreateGame(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error)
	RecordMove(ctx context.Context, auth string, body any) (json.RawMessage, error)
	RecordChessMove(ctx context.Context, auth string, body any) (json.RawMessage, error)
	FetchState(ctx context.Context, auth, gameID string) (json.RawMessage, error)
	Matchmake(ctx context.Context, auth string, body any) (json.RawMessage, error)
	GenerateGameChallenge(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error)
	GenerateChallenge(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error)
	ListRooms(ctx context.Context, auth string) (json.RawMessage, error)
	CreateRoom(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error)
	JoinRoom(ctx context.Context, auth string, body json.RawMessage) (json.RawMessage, error)
	PostRoomMessage(ctx context.Context, auth string, body any) (json.RawMessage, error)
	FetchRoomMessages(ctx context.Context, auth, roomID string) (json.RawMessage, error)
	SetPresence(ctx context.Context, auth, userID string, online bool) (json.RawMessage, error)
	ListProfiles(ctx context.Context, auth string) (json.RawMessage, error)
	CreateProfiles(ctx context.Context, auth string, body any) (json.RawMessage, error)
}

// TextGenerator produces the AI helper texts.
type TextGenerator interface {
	CoachMessage(ctx context.Context, situation, intent string) (string, error)
	SuggestReply(ctx context.Context, lastMessage, tone string) (string, error)
	AnalyzeTone(ctx context.Context, message string) (string, error)
	Translate(ctx context.Context, message, language string) (string, error)
	ProfileText(ctx context.Context, relationshipType string) (string, error)
}

type ChessEngine interface {
	Available() bool
	BestMove(ctx context.Context, req chess.BestMoveRequest) (chess.BestMoveResult, error)
	Analyze(ctx context.Context, req chess.AnalyzeRequest) (chess.AnalyzeResult, error)
}

type Deps struct {
	Auth        auth.TokenValidator
	Backend     Backend
	TextGen     TextGenerator
	Engine      ChessEngine
	Coordinator *relay.Coordinator
	Registry    *hub.Registry
	Messages    *msgcat.Catalog
	WS          wsconn.Options
	Instance    string
}

type Server struct {
	d        Deps
	validate *validator.Validate
	router   chi.Router

	shuttingDown atomic.Bool
}

func New(d Deps) *Server {
	s := &Server{d: d, validate: validator.New()}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	// websocket endpoints authenticate after the upgrade so they can answer with 4401
	r.Get("/games/ws/{gameID}", s.serveChannel(func(r *http.Request) string {
		return domain.GameChannel(chi.URLParam(r, "gameID"))
	}))
	r.Get("/rooms/ws/{roomID}", s.serveChannel(func(r *http.Request) string {
		return domain.RoomChannel(chi.URLParam(r, "roomID"))
	}))
	r.Get("/ws/events", s.serveChannel(func(*http.Request) string { return domain.GlobalChannel }))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(s.requireAuth)

		r.Route("/games", func(r chi.Router) {
			r.Post("/create", s.createGame)
			r.Post("/move", s.gameMove)
			r.Get("/state", s.gameState)
			r.Post("/challenge_generate", s.gameChallenge)
			r.Post("/chess/move", s.chessMove)
			r.Post("/chess/ai_move", s.chessGameAIMove)
			r.Post("/chess/matchmake", s.chessMatchmake)
		})
		r.Route("/chess", func(r chi.Router) {
			r.Post("/ai_move", s.chessAIMove)
			r.Post("/analyze", s.chessAnalyze)
		})
		r.Post("/challenges/generate", s.generateChallenge)
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.listRooms)
			r.Post("/create", s.createRoom)
			r.Post("/join", s.joinRoom)
			r.Post("/message", s.postRoomMessage)
			r.Get("/messages", s.roomMessages)
		})
		r.Post("/presence/online", s.presence(true))
		r.Post("/presence/offline", s.presence(false))
		r.Route("/ai", func(r chi.Router) {
			r.Post("/generate_message", s.aiGenerateMessage)
			r.Post("/suggest_reply", s.aiSuggestReply)
			r.Post("/analyze_tone", s.aiAnalyzeTone)
			r.Post("/translate_message", s.aiTranslate)
			r.Get("/profiles", s.aiProfiles)
			r.Post("/create_profile", s.aiCreateProfile)
			r.Post("/eligibility_check", s.aiEligibility)
			r.Post("/propose_match", s.aiProposeMatch)
		})
	})
	return r
}

// CloseConnections closes every registered websocket with 1001 and waits
// for the close handshakes. Handlers unregister their own connections.
func (s *Server) CloseConnections() int {
	s.shuttingDown.Store(true)
	seen := make(map[string]hub.Conn)
	for _, ch := range s.d.Registry.Channels() {
		for _, c := range s.d.Registry.Snapshot(ch) {
			seen[c.ID()] = c
		}
	}
	var wg sync.WaitGroup
	for _, c := range seen {
		wg.Add(1)
		go func(c hub.Conn) {
			defer wg.Done()
			_ = c.Close(wsconn.CloseGoingAway, "server shutdown")
		}(c)
	}
	wg.Wait()
	return len(seen)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, relaydto.Health{
		Status:      "ok",
		Channels:    len(s.d.Registry.Channels()),
		Connections: s.d.Registry.Connections(),
		Engine:      s.d.Engine != nil && s.d.Engine.Available(),
		Instance:    s.d.Instance,
	})
}
