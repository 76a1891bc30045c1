package board

import "testing"

// TestPinnedPieceRestrictedToRay verifies a pinned piece may only move along
// the ray between the king and the pinner (including capturing the pinner).
func TestPinnedPieceRestrictedToRay(t *testing.T) {
	// White king e1, white rook e4 pinned by black rook e8.
	pos, err := ParseFEN("4r3/8/8/8/4R3/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}

	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() == E4 {
			if m.To().File() != 4 {
				t.Errorf("pinned rook escaped pin ray: %v", m)
			}
		}
	}
}

// TestDoubleCheckOnlyKingMoves verifies that with two checkers, only king
// moves are generated.
func TestDoubleCheckOnlyKingMoves(t *testing.T) {
	// Black king h8 double-checked by white rook h1 and white bishop d4.
	pos, err := ParseFEN("7k/8/8/8/3B4/8/8/K6R b - - 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}

	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		if moves.Get(i).From() != pos.KingSquare[Black] {
			t.Errorf("non-king move generated during double check: %v", moves.Get(i))
		}
	}
}

// TestSingleCheckInterposeOrCapture verifies that when in single check from
// a slider, only king moves, captures of the checker, and interpositions on
// the checking ray are generated.
func TestSingleCheckInterposeOrCapture(t *testing.T) {
	// White king e1 in check from black rook e8; white knight on c3 can
	// interpose on e2, white rook a1 can do nothing relevant.
	pos, err := ParseFEN("4r3/8/8/8/8/2N5/8/R3K3 w - - 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}

	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() == A1 {
			t.Errorf("rook move that neither blocks nor captures the checker was generated: %v", m)
		}
	}

	found := false
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() == C3 && m.To().File() == 4 && m.To().Rank() == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected knight interposition Nc3-e2 among legal moves")
	}
}

// TestEnPassantHorizontalPinExposesKing is the scenario from the
// specification's test matrix: capturing en passant removes both pawns
// from the fourth rank and exposes the king to a rook on that rank.
func TestEnPassantHorizontalPinExposesKing(t *testing.T) {
	pos, err := ParseFEN("8/8/8/8/k2Pp2R/8/8/4K3 b - d3 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}

	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		if moves.Get(i).IsEnPassant() {
			t.Errorf("en passant capture should be illegal due to horizontal pin: %v", moves.Get(i))
		}
	}
}

// TestInsufficientMaterialKvK verifies the lone-kings draw.
func TestInsufficientMaterialKvK(t *testing.T) {
	pos, err := ParseFEN("4k3/8/8/8/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("parse FEN: %v", err)
	}
	if !pos.IsInsufficientMaterial() {
		t.Errorf("expected K vs K to be insufficient material")
	}
}
