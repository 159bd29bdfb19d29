package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/backend"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

const codeBackendUnreachable = "backend_unreachable"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_failed", zap.Error(err))
	}
}

// writeRaw relays a backend body unchanged.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(body) == 0 {
		body = []byte("null")
	}
	_, _ = w.Write(body)
}

// writeError maps err onto a response. Backend errors keep the backend's
// status and body. data feeds the message template.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, data map[string]string) {
	var herr *backend.HTTPError
	if errors.As(err, &herr) {
		writeRaw(w, herr.Status, herr.Body)
		return
	}
	if errors.Is(err, backend.ErrUnreachable) {
		obslog.L().Warn("backend_unreachable", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, relaydto.ErrorResponse{
			Code:      codeBackendUnreachable,
			Message:   "backend unreachable",
			Retryable: true,
		})
		return
	}

	rej := domain.Classify(err)
	if rej.Code == domain.CodeInternal {
		obslog.L().Error("http_internal_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, rej.Status, relaydto.ErrorResponse{
		Code:      rej.Code,
		Message:   s.d.Messages.Text("reject."+rej.Code, data, rej.Message),
		Retryable: rej.Retryable,
	})
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %q", domain.ErrMalformedInput, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	return nil
}

// decodeRaw reads an opaque JSON object for pass-through endpoints.
func decodeRaw(r *http.Request, w http.ResponseWriter) (json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: body must be a JSON object", domain.ErrMalformedInput)
	}
	return raw, nil
}

func authHeader(r *http.Request) string { return r.Header.Get("Authorization") }
