package tablebase

import (
	"testing"

	"github.com/hailam/chessplay/internal/board"
)

func mustParse(t *testing.T, fen string) *board.Position {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return pos
}

func TestStubProbeWDLBareKingsIsDraw(t *testing.T) {
	pos := mustParse(t, "8/8/4k3/8/8/4K3/8/8 w - - 0 1")
	if got := (Stub{}).ProbeWDL(pos); got != Draw {
		t.Errorf("ProbeWDL(bare kings) = %v, want Draw", got)
	}
}

func TestStubProbeWDLUnknownWithExtraMaterial(t *testing.T) {
	pos := mustParse(t, "8/8/4k3/8/8/4K2R/8/8 w - - 0 1")
	if got := (Stub{}).ProbeWDL(pos); got != Unknown {
		t.Errorf("ProbeWDL(K+R vs K) = %v, want Unknown", got)
	}
}

func TestStubMaxPieces(t *testing.T) {
	if (Stub{}).MaxPieces() != 3 {
		t.Errorf("MaxPieces() = %d, want 3", (Stub{}).MaxPieces())
	}
}

func TestCountPieces(t *testing.T) {
	pos := mustParse(t, board.StartFEN)
	if got := CountPieces(pos); got != 32 {
		t.Errorf("CountPieces(start) = %d, want 32", got)
	}
}
