package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-relay/internal/domain"
)

// squareAt expands the placement field of fen and returns the piece letter on sq ("" when empty).
func squareAt(t *testing.T, fen, sq string) string {
	t.Helper()
	placement := strings.Fields(fen)[0]
	ranks := strings.Split(placement, "/")
	require.Len(t, ranks, 8)
	file := int(sq[0] - 'a')
	rank := int(sq[1] - '1')
	row := ranks[7-rank]
	col := 0
	for _, r := range row {
		if r >= '1' && r <= '8' {
			col += int(r - '0')
			if col > file {
				return ""
			}
			continue
		}
		if col == file {
			return string(r)
		}
		col++
	}
	return ""
}

func sideToMove(fen string) string { return strings.Fields(fen)[1] }

func TestApply_E2E4(t *testing.T) {
	res, err := Apply(StartFEN, "e2e4")
	require.NoError(t, err)

	assert.Equal(t, "P", squareAt(t, res.FEN, "e4"))
	assert.Equal(t, "", squareAt(t, res.FEN, "e2"))
	assert.Equal(t, "b", sideToMove(res.FEN))
	assert.Equal(t, "black", res.Turn)
	assert.Equal(t, "e4", res.SAN)
	assert.Equal(t, "e2e4", res.Move)
	assert.False(t, res.Finished())
}

func TestApply_E2E5Illegal(t *testing.T) {
	_, err := Apply(StartFEN, "e2e5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIllegalMove))
	assert.False(t, errors.Is(err, domain.ErrMalformedInput))
}

func TestApply_MalformedInput(t *testing.T) {
	cases := []struct {
		name string
		fen  string
		move string
	}{
		{"garbage move", StartFEN, "hello"},
		{"san instead of uci", StartFEN, "Nf3"},
		{"off-board square", StartFEN, "e2e9"},
		{"bad promotion piece", StartFEN, "e7e8k"},
		{"empty move", StartFEN, ""},
		{"garbage fen", "not a fen", "e2e4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(tc.fen, tc.move)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedInput), "got %v", err)
		})
	}
}

func TestApply_EveryLegalMoveFlipsSide(t *testing.T) {
	positions := []string{
		StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"rnbqkbnr/ppp1p1pp/8/3pPp2/8/8/PPPP1PPP/RNBQKBNR w KQkq f6 0 3",
		"8/P7/8/8/8/8/8/k6K w - - 0 1",
	}
	for _, fen := range positions {
		moves, err := LegalMoves(fen)
		require.NoError(t, err)
		require.NotEmpty(t, moves)
		before := sideToMove(fen)
		for _, mv := range moves {
			res, err := Apply(fen, mv)
			require.NoError(t, err, "fen=%s move=%s", fen, mv)
			assert.NotEqual(t, before, sideToMove(res.FEN), "fen=%s move=%s", fen, mv)
			assert.Equal(t, "", squareAt(t, res.FEN, mv[:2]), "origin must be vacated: fen=%s move=%s", fen, mv)
			assert.NotEqual(t, "", squareAt(t, res.FEN, mv[2:4]), "target must be occupied: fen=%s move=%s", fen, mv)
		}
	}
}

func TestApply_SpecialMoves(t *testing.T) {
	t.Run("en passant removes captured pawn", func(t *testing.T) {
		res, err := Apply("rnbqkbnr/ppp1p1pp/8/3pPp2/8/8/PPPP1PPP/RNBQKBNR w KQkq f6 0 3", "e5f6")
		require.NoError(t, err)
		assert.Equal(t, "P", squareAt(t, res.FEN, "f6"))
		assert.Equal(t, "", squareAt(t, res.FEN, "f5"))
	})
	t.Run("castling moves the rook", func(t *testing.T) {
		res, err := Apply("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1", "e1g1")
		require.NoError(t, err)
		assert.Equal(t, "K", squareAt(t, res.FEN, "g1"))
		assert.Equal(t, "R", squareAt(t, res.FEN, "f1"))
		assert.Equal(t, "", squareAt(t, res.FEN, "h1"))
	})
	t.Run("promotion", func(t *testing.T) {
		res, err := Apply("8/P7/8/8/8/8/8/k6K w - - 0 1", "a7a8q")
		require.NoError(t, err)
		assert.Equal(t, "Q", squareAt(t, res.FEN, "a8"))
	})
	t.Run("pinned piece cannot move", func(t *testing.T) {
		_, err := Apply("4r1k1/8/8/8/8/8/4B3/4K3 w - - 0 1", "e2d3")
		assert.True(t, errors.Is(err, domain.ErrIllegalMove))
	})
	t.Run("castling right without its rook is ignored", func(t *testing.T) {
		fen := "4k3/8/8/8/8/8/8/4K2R w KQkq - 0 1"
		_, err := Apply(fen, "e1c1")
		assert.True(t, errors.Is(err, domain.ErrIllegalMove))

		res, err := Apply(fen, "e1g1")
		require.NoError(t, err)
		assert.Equal(t, "R", squareAt(t, res.FEN, "f1"))

		pos, err := ParsePosition(fen)
		require.NoError(t, err)
		assert.Equal(t, "K", strings.Fields(pos.FEN)[2])
	})
	t.Run("castling through check is illegal", func(t *testing.T) {
		_, err := Apply("r3k2r/8/8/8/8/8/5r2/R3K2R w KQkq - 0 1", "e1g1")
		assert.True(t, errors.Is(err, domain.ErrIllegalMove))
	})
	t.Run("checkmate reports outcome", func(t *testing.T) {
		res, err := Apply("rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq g3 0 2", "d8h4")
		require.NoError(t, err)
		assert.True(t, res.Finished())
		assert.Equal(t, "0-1", res.Outcome)
		assert.Equal(t, "checkmate", res.Method)
	})
}

func TestApply_ReversibleShuffleRestoresPlacement(t *testing.T) {
	fen := StartFEN
	for _, mv := range []string{"g1f3", "g8f6", "f3g1", "f6g8"} {
		res, err := Apply(fen, mv)
		require.NoError(t, err)
		fen = res.FEN
	}
	start := strings.Fields(StartFEN)
	got := strings.Fields(fen)
	assert.Equal(t, start[:4], got[:4], "placement, side, castling and en-passant fields must round-trip")
}

func TestApply_IsPure(t *testing.T) {
	first, err := Apply(StartFEN, "d2d4")
	require.NoError(t, err)
	second, err := Apply(StartFEN, "d2d4")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParsePosition(t *testing.T) {
	pos, err := ParsePosition("startpos")
	require.NoError(t, err)
	assert.Equal(t, StartFEN, pos.FEN)
	assert.Equal(t, "white", pos.Turn)

	_, err = ParsePosition("8/8/8")
	assert.True(t, errors.Is(err, domain.ErrMalformedInput))
}

func TestLegalMoves_StartPosition(t *testing.T) {
	moves, err := LegalMoves(StartFEN)
	require.NoError(t, err)
	assert.Len(t, moves, 20)
	assert.Contains(t, moves, "e2e4")
	assert.NotContains(t, moves, "e2e5")
}
