// Package rules applies chess rules to FEN positions and UCI moves.
//
// Every function here is pure: a fresh game is decoded from the FEN on each
// call and nothing is cached between calls.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-relay/internal/domain"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Position is a decoded board state.
type Position struct {
	FEN  string
	Turn string // "white" or "black"
}

// Result is the outcome of applying one move.
type Result struct {
	Before  string
	Move    string
	SAN     string
	FEN     string
	Turn    string
	Outcome string // "*", "1-0", "0-1", "1/2-1/2"
	Method  string
}

// Finished reports whether the move ended the game.
func (r Result) Finished() bool { return r.Outcome != "" && r.Outcome != string(nchess.NoOutcome) }

// ParsePosition decodes fen; "startpos" and "" map to the initial position.
func ParsePosition(fen string) (Position, error) {
	game, err := decode(fen)
	if err != nil {
		return Position{}, err
	}
	return Position{FEN: game.FEN(), Turn: colorName(game.Position().Turn())}, nil
}

// NormalizeMove lowercases and validates UCI move syntax.
func NormalizeMove(move string) (string, error) {
	uci := strings.ToLower(strings.TrimSpace(move))
	if !uciPattern.MatchString(uci) {
		return "", fmt.Errorf("%w: move %q is not UCI notation", domain.ErrMalformedInput, move)
	}
	return uci, nil
}

// Apply plays move on fen and returns the resulting position.
// Unparseable input fails with domain.ErrMalformedInput; a well-formed move
// that is not legal in the position fails with domain.ErrIllegalMove.
func Apply(fen, move string) (Result, error) {
	game, err := decode(fen)
	if err != nil {
		return Result{}, err
	}
	uci, err := NormalizeMove(move)
	if err != nil {
		return Result{}, err
	}

	before := game.Position()
	if !isLegal(before, uci) {
		return Result{}, fmt.Errorf("%w: %s in %s", domain.ErrIllegalMove, uci, game.FEN())
	}
	mv, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", domain.ErrIllegalMove, uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(before, mv)
	beforeFEN := game.FEN()
	if err := game.Move(mv, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", domain.ErrIllegalMove, uci, err)
	}

	return Result{
		Before:  beforeFEN,
		Move:    uci,
		SAN:     san,
		FEN:     game.FEN(),
		Turn:    colorName(game.Position().Turn()),
		Outcome: string(game.Outcome()),
		Method:  methodName(game.Method()),
	}, nil
}

// LegalMoves lists the legal moves of fen in UCI notation.
func LegalMoves(fen string) ([]string, error) {
	game, err := decode(fen)
	if err != nil {
		return nil, err
	}
	valid := game.Position().ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, strings.ToLower(mv.String()))
	}
	return out, nil
}

func isLegal(pos *nchess.Position, uci string) bool {
	for _, mv := range pos.ValidMoves() {
		if strings.EqualFold(mv.String(), uci) {
			return true
		}
	}
	return false
}

func decode(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(clampCastling(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: fen %q: %v", domain.ErrMalformedInput, fen, err)
	}
	return nchess.NewGame(opt), nil
}

// clampCastling drops castling rights whose king or rook is off its home square.
func clampCastling(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 3 || fields[2] == "-" {
		return fen
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fen
	}
	back8, ok8 := expandRank(ranks[0])
	back1, ok1 := expandRank(ranks[7])
	if !ok8 || !ok1 {
		return fen
	}

	home := map[rune]bool{
		'K': back1[4] == 'K' && back1[7] == 'R',
		'Q': back1[4] == 'K' && back1[0] == 'R',
		'k': back8[4] == 'k' && back8[7] == 'r',
		'q': back8[4] == 'k' && back8[0] == 'r',
	}
	var kept strings.Builder
	for _, r := range fields[2] {
		if home[r] {
			kept.WriteRune(r)
		}
	}
	if kept.Len() == 0 {
		fields[2] = "-"
	} else {
		fields[2] = kept.String()
	}
	return strings.Join(fields, " ")
}

// expandRank turns one FEN rank into its eight squares, '.' for empty.
func expandRank(rank string) ([8]byte, bool) {
	var sq [8]byte
	file := 0
	for i := 0; i < len(rank); i++ {
		c := rank[i]
		if c >= '1' && c <= '8' {
			for n := int(c - '0'); n > 0; n-- {
				if file >= 8 {
					return sq, false
				}
				sq[file] = '.'
				file++
			}
			continue
		}
		if file >= 8 {
			return sq, false
		}
		sq[file] = c
		file++
	}
	return sq, file == 8
}

func colorName(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	default:
		return ""
	}
}
