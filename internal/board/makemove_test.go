package board

import "testing"

// assertRoundTrip applies m, checks the board changed, unmakes it, and
// verifies every observable field returns to its pre-move value.
func assertRoundTrip(t *testing.T, fen string, m Move) {
	t.Helper()
	pos, err := ParseFEN(fen)
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}
	before := *pos

	undo := pos.MakeMove(m)
	if !undo.Valid {
		t.Fatalf("MakeMove(%v) on %q reported invalid", m, fen)
	}
	if *pos == before {
		t.Fatalf("MakeMove(%v) did not change the position", m)
	}

	pos.UnmakeMove(m, undo)
	if *pos != before {
		t.Errorf("UnmakeMove did not restore the position for %v on %q:\nbefore: %+v\nafter:  %+v", m, fen, before, *pos)
	}
}

func TestMakeUnmakeQuietMove(t *testing.T) {
	assertRoundTrip(t, StartFEN, NewMove(E2, E4))
}

func TestMakeUnmakeCapture(t *testing.T) {
	assertRoundTrip(t, "4k3/8/8/3p4/4P3/8/8/4K3 w - - 0 1", NewMove(E4, D5))
}

func TestMakeUnmakeEnPassant(t *testing.T) {
	assertRoundTrip(t, "4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 1", NewEnPassant(E5, D6))
}

func TestMakeUnmakePromotion(t *testing.T) {
	assertRoundTrip(t, "4k3/P7/8/8/8/8/8/4K3 w - - 0 1", NewPromotion(A7, A8, Queen))
}

func TestMakeUnmakeUnderpromotionCapture(t *testing.T) {
	assertRoundTrip(t, "1n2k3/P7/8/8/8/8/8/4K3 w - - 0 1", NewPromotion(A7, B8, Knight))
}

func TestMakeUnmakeKingsideCastling(t *testing.T) {
	assertRoundTrip(t, "4k3/8/8/8/8/8/8/4K2R w K - 0 1", NewCastling(E1, G1))
}

func TestMakeUnmakeQueensideCastling(t *testing.T) {
	assertRoundTrip(t, "4k3/8/8/8/8/8/8/R3K3 w Q - 0 1", NewCastling(E1, C1))
}

func TestMakeMoveUpdatesSideToMoveAndClock(t *testing.T) {
	pos, err := ParseFEN(StartFEN)
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}
	pos.MakeMove(NewMove(E2, E4))
	if pos.SideToMove != Black {
		t.Errorf("expected side to move Black after 1.e4, got %v", pos.SideToMove)
	}
	if pos.EnPassant != E3 {
		t.Errorf("expected en passant target e3, got %v", pos.EnPassant)
	}
	if pos.HalfMoveClock != 0 {
		t.Errorf("expected half-move clock reset on pawn push, got %d", pos.HalfMoveClock)
	}
}

func TestMakeMoveClearsCastlingRightsOnRookCapture(t *testing.T) {
	pos, err := ParseFEN("r3k3/8/8/8/8/8/8/R3K2R w KQq - 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}
	// Rook takes the a8 rook, removing black's queenside castling right.
	pos.MakeMove(NewMove(A1, A8))
	if pos.CastlingRights.CanCastle(Black, false) {
		t.Error("expected black queenside castling right cleared after rook capture on a8")
	}
	if !pos.CastlingRights.CanCastle(White, true) {
		t.Error("expected white kingside castling right to remain")
	}
}

func TestIsLegalRejectsMoveThatExposesKingToCheck(t *testing.T) {
	// White king e1, white rook e4 pinned by black rook e8: moving the rook
	// off the e-file must be illegal, exercising IsLegal's make/unmake path.
	pos, err := ParseFEN("4r3/8/8/8/4R3/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}
	if pos.IsLegal(NewMove(E4, D4)) {
		t.Error("expected pinned rook's sideways move to be illegal")
	}
	if !pos.IsLegal(NewMove(E4, E5)) {
		t.Error("expected pinned rook's along-pin move to be legal")
	}
}
