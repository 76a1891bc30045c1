package board

// MakeMove applies a move to the position and returns the information needed
// to undo it. The returned UndoInfo.Valid is false if there was no piece on
// the from-square; callers must still check it before calling UnmakeMove.
func (p *Position) MakeMove(m Move) UndoInfo {
	undo := UndoInfo{
		CapturedPiece:  NoPiece,
		CastlingRights: p.CastlingRights,
		EnPassant:      p.EnPassant,
		HalfMoveClock:  p.HalfMoveClock,
		Hash:           p.Hash,
		PawnKey:        p.PawnKey,
		Checkers:       p.Checkers,
		Valid:          false,
	}

	us := p.SideToMove
	them := us.Other()
	from := m.From()
	to := m.To()

	piece := p.PieceAt(from)
	if piece == NoPiece {
		return undo
	}
	undo.Valid = true
	pt := piece.Type()

	p.Hash ^= ZobristSideToMove()
	p.Hash ^= ZobristCastling(p.CastlingRights)
	if p.EnPassant != NoSquare {
		p.Hash ^= ZobristEnPassant(p.EnPassant.File())
	}
	p.EnPassant = NoSquare

	if m.IsEnPassant() {
		var capturedSq Square
		if us == White {
			capturedSq = to - 8
		} else {
			capturedSq = to + 8
		}
		undo.CapturedPiece = p.removePiece(capturedSq)
		p.Hash ^= ZobristPiece(them, Pawn, capturedSq)
	} else if captured := p.PieceAt(to); captured != NoPiece {
		undo.CapturedPiece = captured
		p.removePiece(to)
		p.Hash ^= ZobristPiece(them, captured.Type(), to)
	}

	p.movePiece(from, to)
	p.Hash ^= ZobristPiece(us, pt, from)
	p.Hash ^= ZobristPiece(us, pt, to)

	if m.IsPromotion() {
		promoPt := m.Promotion()
		p.Pieces[us][Pawn] &^= SquareBB(to)
		p.Pieces[us][promoPt] |= SquareBB(to)
		p.Hash ^= ZobristPiece(us, Pawn, to)
		p.Hash ^= ZobristPiece(us, promoPt, to)
	}

	if m.IsCastling() {
		var rookFrom, rookTo Square
		if to > from {
			rookFrom = NewSquare(7, from.Rank())
			rookTo = NewSquare(5, from.Rank())
		} else {
			rookFrom = NewSquare(0, from.Rank())
			rookTo = NewSquare(3, from.Rank())
		}
		p.movePiece(rookFrom, rookTo)
		p.Hash ^= ZobristPiece(us, Rook, rookFrom)
		p.Hash ^= ZobristPiece(us, Rook, rookTo)
	}

	if pt == King {
		if us == White {
			p.CastlingRights &^= WhiteKingSideCastle | WhiteQueenSideCastle
		} else {
			p.CastlingRights &^= BlackKingSideCastle | BlackQueenSideCastle
		}
	}
	clearCastlingRightsForSquare(p, from)
	clearCastlingRightsForSquare(p, to)
	p.Hash ^= ZobristCastling(p.CastlingRights)

	if pt == Pawn && abs(int(to)-int(from)) == 16 {
		epSquare := Square((int(from) + int(to)) / 2)
		p.EnPassant = epSquare
		p.Hash ^= ZobristEnPassant(epSquare.File())
	}

	if pt == Pawn || undo.CapturedPiece != NoPiece {
		p.HalfMoveClock = 0
	} else {
		p.HalfMoveClock++
	}
	if us == Black {
		p.FullMoveNumber++
	}

	p.SideToMove = them
	p.UpdateCheckers()
	return undo
}

// clearCastlingRightsForSquare drops castling rights tied to a rook's home
// square once that square is vacated by a move or capture.
func clearCastlingRightsForSquare(p *Position, sq Square) {
	switch sq {
	case A1:
		p.CastlingRights &^= WhiteQueenSideCastle
	case H1:
		p.CastlingRights &^= WhiteKingSideCastle
	case A8:
		p.CastlingRights &^= BlackQueenSideCastle
	case H8:
		p.CastlingRights &^= BlackKingSideCastle
	}
}

// UnmakeMove reverses a move previously applied with MakeMove. The undo
// value must be the one MakeMove returned for this exact move.
func (p *Position) UnmakeMove(m Move, undo UndoInfo) {
	if !undo.Valid {
		return
	}

	them := p.SideToMove
	us := them.Other()
	from := m.From()
	to := m.To()

	p.CastlingRights = undo.CastlingRights
	p.EnPassant = undo.EnPassant
	p.HalfMoveClock = undo.HalfMoveClock
	p.Hash = undo.Hash
	p.PawnKey = undo.PawnKey
	p.Checkers = undo.Checkers
	p.SideToMove = us
	if us == Black {
		p.FullMoveNumber--
	}

	if m.IsPromotion() {
		promoPt := m.Promotion()
		p.Pieces[us][promoPt] &^= SquareBB(to)
		p.Pieces[us][Pawn] |= SquareBB(to)
	}

	p.movePiece(to, from)

	if m.IsCastling() {
		var rookFrom, rookTo Square
		if to > from {
			rookFrom = NewSquare(7, from.Rank())
			rookTo = NewSquare(5, from.Rank())
		} else {
			rookFrom = NewSquare(0, from.Rank())
			rookTo = NewSquare(3, from.Rank())
		}
		p.movePiece(rookTo, rookFrom)
	}

	if undo.CapturedPiece != NoPiece {
		if m.IsEnPassant() {
			var capturedSq Square
			if us == White {
				capturedSq = to - 8
			} else {
				capturedSq = to + 8
			}
			p.setPiece(undo.CapturedPiece, capturedSq)
		} else {
			p.setPiece(undo.CapturedPiece, to)
		}
	}
}
