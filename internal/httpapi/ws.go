package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/auth"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/wsconn"
)

// serveChannel upgrades the request, authenticates it and subscribes the
// socket to the channel chosen by channelOf until either side hangs up.
func (s *Server) serveChannel(channelOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := channelOf(r)
		conn, err := wsconn.Accept(w, r, s.d.WS)
		if err != nil {
			obslog.L().Info("ws_accept_failed", zap.String("channel", channel), zap.Error(err))
			return
		}

		subject, err := s.d.Auth.ValidateToken(auth.TokenFromRequest(r))
		if err != nil {
			obslog.L().Info("ws_unauthorized", zap.String("channel", channel), zap.Error(err))
			_ = conn.Close(wsconn.CloseUnauthorized, "unauthorized")
			return
		}
		if s.shuttingDown.Load() {
			_ = conn.Close(wsconn.CloseGoingAway, "server shutdown")
			return
		}

		s.d.Registry.Add(channel, conn)
		obslog.L().Info("ws_joined", zap.String("channel", channel), zap.String("conn_id", conn.ID()), zap.String("subject", subject))

		err = conn.Serve(r.Context(), func(ctx context.Context, frame []byte) error {
			return s.d.Coordinator.HandleInbound(ctx, channel, conn, subject, frame)
		})
		s.d.Registry.Drop(conn)

		code, reason := closeFor(err, s.shuttingDown.Load())
		_ = conn.Close(code, reason)
		conn.Wait()
		obslog.L().Info("ws_left",
			zap.String("channel", channel),
			zap.String("conn_id", conn.ID()),
			zap.Int("code", code),
			zap.Error(err))
	}
}

func closeFor(err error, shuttingDown bool) (int, string) {
	switch {
	case domain.IsProtocolViolation(err):
		return wsconn.CloseProtocolError, "protocol violation"
	case shuttingDown:
		return wsconn.CloseGoingAway, "server shutdown"
	default:
		return wsconn.CloseNormal, ""
	}
}
