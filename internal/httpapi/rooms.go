package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	out, err := s.d.Backend.ListRooms(r.Context(), authHeader(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, func(r *http.Request, body []byte) ([]byte, error) {
		return s.d.Backend.CreateRoom(r.Context(), authHeader(r), body)
	})
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, func(r *http.Request, body []byte) ([]byte, error) {
		return s.d.Backend.JoinRoom(r.Context(), authHeader(r), body)
	})
}

// postRoomMessage stores the message and pushes it to the room's sockets.
func (s *Server) postRoomMessage(w http.ResponseWriter, r *http.Request) {
	var req relaydto.RoomMessageRequest
	if err := s.decode(r, w, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	out, err := s.d.Backend.PostRoomMessage(r.Context(), authHeader(r), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := s.d.Coordinator.PublishEventDetached(domain.RoomChannel(req.RoomID), domain.TypeNewMessage, req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) roomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("room_id"))
	if roomID == "" {
		s.writeError(w, r, fmt.Errorf("%w: room_id is required", domain.ErrMalformedInput), nil)
		return
	}
	out, err := s.d.Backend.FetchRoomMessages(r.Context(), authHeader(r), roomID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) presence(online bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			s.writeError(w, r, fmt.Errorf("%w: user_id is required", domain.ErrMalformedInput), nil)
			return
		}
		out, err := s.d.Backend.SetPresence(r.Context(), authHeader(r), userID, online)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		writeRaw(w, http.StatusOK, out)
	}
}
