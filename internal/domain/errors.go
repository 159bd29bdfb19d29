package domain

import (
	"errors"
	"net/http"
)

// Error taxonomy shared by the relay. Packages wrap these with %w.
var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrIllegalMove       = errors.New("illegal move")
	ErrNoLegalMoves      = errors.New("no legal moves in position")
	ErrEngineUnavailable = errors.New("chess engine unavailable")
	ErrEngineTimeout     = errors.New("chess engine timeout")
	ErrEngineResponse    = errors.New("chess engine returned an invalid move")
	ErrAuth              = errors.New("authentication failed")
	ErrDelivery          = errors.New("delivery failure")
)

// Rejection codes as they appear on the wire.
const (
	CodeMalformedInput    = "malformed_input"
	CodeIllegalMove       = "illegal_move"
	CodeNoLegalMoves      = "no_legal_moves"
	CodeEngineUnavailable = "engine_unavailable"
	CodeEngineTimeout     = "engine_timeout"
	CodeEngineResponse    = "engine_error"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

// Rejection is the caller-facing form of an error.
type Rejection struct {
	Code      string
	Message   string
	Retryable bool
	Status    int
}

func (r Rejection) Error() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Code
}

// Classify maps an error onto its rejection. Unknown errors become internal failures.
func Classify(err error) Rejection {
	switch {
	case err == nil:
		return Rejection{}
	case errors.Is(err, ErrMalformedInput):
		return Rejection{Code: CodeMalformedInput, Message: err.Error(), Status: http.StatusBadRequest}
	case errors.Is(err, ErrIllegalMove):
		return Rejection{Code: CodeIllegalMove, Message: err.Error(), Retryable: true, Status: http.StatusUnprocessableEntity}
	case errors.Is(err, ErrNoLegalMoves):
		return Rejection{Code: CodeNoLegalMoves, Message: err.Error(), Status: http.StatusUnprocessableEntity}
	case errors.Is(err, ErrEngineUnavailable):
		return Rejection{Code: CodeEngineUnavailable, Message: err.Error(), Status: http.StatusServiceUnavailable}
	case errors.Is(err, ErrEngineTimeout):
		return Rejection{Code: CodeEngineTimeout, Message: err.Error(), Retryable: true, Status: http.StatusGatewayTimeout}
	case errors.Is(err, ErrEngineResponse):
		return Rejection{Code: CodeEngineResponse, Message: err.Error(), Retryable: true, Status: http.StatusBadGateway}
	case errors.Is(err, ErrAuth):
		return Rejection{Code: CodeUnauthorized, Message: err.Error(), Status: http.StatusUnauthorized}
	default:
		return Rejection{Code: CodeInternal, Message: "internal error", Retryable: true, Status: http.StatusInternalServerError}
	}
}

// IsProtocolViolation reports whether err must terminate the offending connection.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrMalformedInput)
}
