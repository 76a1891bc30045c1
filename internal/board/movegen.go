package board

// GenerateLegalMoves generates every legal move for the side to move in a
// single pass: attacked-square computation, checker count, and per-piece pin
// masks are derived once and used to restrict move generation directly,
// rather than generating pseudo-legal moves and filtering them with
// make/unmake. Double check only allows king moves; single check restricts
// non-king pieces to capturing the checker or interposing on its ray; pinned
// pieces are restricted to their pin ray for the whole call.
func (p *Position) GenerateLegalMoves() *MoveList {
	ml := NewMoveList()

	us := p.SideToMove
	them := us.Other()
	occupied := p.AllOccupied
	ourPieces := p.Occupied[us]
	enemies := p.Occupied[them]
	empty := ^occupied

	kingSq := p.KingSquare[us]
	kingBB := SquareBB(kingSq)

	// Sliders see through our own king when computing squares the king
	// cannot retreat to, since the king itself isn't a blocker once it moves.
	occupiedNoKing := occupied &^ kingBB

	enemyRooksQueens := p.Pieces[them][Rook] | p.Pieces[them][Queen]
	enemyBishopsQueens := p.Pieces[them][Bishop] | p.Pieces[them][Queen]
	enemyKnights := p.Pieces[them][Knight]
	enemyPawns := p.Pieces[them][Pawn]
	enemyKing := p.Pieces[them][King]

	var attacked Bitboard
	attacked |= PawnAttacksBB(enemyPawns, them)
	enemyKing.ForEach(func(sq Square) { attacked |= KingAttacks(sq) })
	enemyKnights.ForEach(func(sq Square) { attacked |= KnightAttacks(sq) })
	enemyRooksQueens.ForEach(func(sq Square) { attacked |= RookAttacks(sq, occupiedNoKing) })
	enemyBishopsQueens.ForEach(func(sq Square) { attacked |= BishopAttacks(sq, occupiedNoKing) })

	// Checkers and pins, discovered from the king's point of view.
	var checkers Bitboard
	checkers |= PawnAttacks(kingSq, us) & enemyPawns
	checkers |= KnightAttacks(kingSq) & enemyKnights

	var pinned Bitboard
	var pinMask [64]Bitboard

	// Rook/queen rays from the king: a ray blocked by exactly one of our own
	// pieces before reaching an enemy rook/queen pins that piece.
	rookRayPinners := RookAttacks(kingSq, 0) & enemyRooksQueens
	for rookRayPinners != 0 {
		pinnerSq := rookRayPinners.PopLSB()
		between := Between(kingSq, pinnerSq) & occupied
		if between.PopCount() == 1 {
			if between&ourPieces != 0 {
				pinnedSq := between.LSB()
				pinned |= SquareBB(pinnedSq)
				pinMask[pinnedSq] = Between(kingSq, pinnerSq) | SquareBB(pinnerSq)
			}
		} else if between.Empty() {
			checkers |= SquareBB(pinnerSq)
		}
	}

	bishopRayPinners := BishopAttacks(kingSq, 0) & enemyBishopsQueens
	for bishopRayPinners != 0 {
		pinnerSq := bishopRayPinners.PopLSB()
		between := Between(kingSq, pinnerSq) & occupied
		if between.PopCount() == 1 {
			if between&ourPieces != 0 {
				pinnedSq := between.LSB()
				pinned |= SquareBB(pinnedSq)
				pinMask[pinnedSq] = Between(kingSq, pinnerSq) | SquareBB(pinnerSq)
			}
		} else if between.Empty() {
			checkers |= SquareBB(pinnerSq)
		}
	}

	p.Checkers = checkers
	numCheckers := checkers.PopCount()

	nonAttacked := ^attacked

	addMove := func(from, to Square) {
		if pinned.IsSet(from) {
			if !pinMask[from].IsSet(to) {
				return
			}
		}
		ml.Add(NewMove(from, to))
	}
	addPromo := func(from, to Square) {
		if pinned.IsSet(from) {
			if !pinMask[from].IsSet(to) {
				return
			}
		}
		addPromotions(ml, from, to)
	}

	// King moves are always available regardless of check count.
	kingMoves := KingAttacks(kingSq) &^ ourPieces & nonAttacked
	kingMoves.ForEach(func(to Square) { ml.Add(NewMove(kingSq, to)) })

	if numCheckers >= 2 {
		// Double check: only the king can move.
		return ml
	}

	var blockMask Bitboard
	if numCheckers == 1 {
		checkerSq := checkers.LSB()
		blockMask = checkers
		checkerBB := SquareBB(checkerSq)
		if (enemyRooksQueens|enemyBishopsQueens)&checkerBB != 0 {
			blockMask |= Between(kingSq, checkerSq)
		}
	} else {
		blockMask = ^Bitboard(0)
	}

	p.generatePawnMovesLegal(ml, us, enemies, empty, blockMask, pinned, pinMask, addMove, addPromo)

	(p.Pieces[us][Knight] &^ pinned).ForEach(func(from Square) {
		(KnightAttacks(from) &^ ourPieces & blockMask).ForEach(func(to Square) { addMove(from, to) })
	})
	p.Pieces[us][Bishop].ForEach(func(from Square) {
		(BishopAttacks(from, occupied) &^ ourPieces & blockMask).ForEach(func(to Square) { addMove(from, to) })
	})
	p.Pieces[us][Rook].ForEach(func(from Square) {
		(RookAttacks(from, occupied) &^ ourPieces & blockMask).ForEach(func(to Square) { addMove(from, to) })
	})
	p.Pieces[us][Queen].ForEach(func(from Square) {
		(QueenAttacks(from, occupied) &^ ourPieces & blockMask).ForEach(func(to Square) { addMove(from, to) })
	})

	if numCheckers == 0 {
		p.generateCastlingMoves(ml, us, attacked)
	}

	p.generateEnPassantLegal(ml, us, numCheckers, checkers, pinned, pinMask, kingSq, occupied)

	return ml
}

// generatePawnMovesLegal generates pawn pushes, captures and promotions,
// restricted to blockMask (everywhere when not in check) and to each pawn's
// pin ray when pinned.
func (p *Position) generatePawnMovesLegal(ml *MoveList, us Color, enemies, empty, blockMask, pinned Bitboard, pinMask [64]Bitboard, addMove, addPromo func(from, to Square)) {
	pawns := p.Pieces[us][Pawn]
	var promotionRank Bitboard
	if us == White {
		promotionRank = Rank8
	} else {
		promotionRank = Rank1
	}

	emit := func(from, to Square) {
		if pinned.IsSet(from) && !pinMask[from].IsSet(to) {
			return
		}
		if !blockMask.IsSet(to) {
			return
		}
		if promotionRank.IsSet(to) {
			addPromoUnchecked(ml, from, to)
			return
		}
		ml.Add(NewMove(from, to))
	}

	pawns.ForEach(func(from Square) {
		var push1 Bitboard
		if us == White {
			push1 = SquareBB(from).North() & empty
		} else {
			push1 = SquareBB(from).South() & empty
		}
		push1.ForEach(func(to Square) { emit(from, to) })

		var startRank Bitboard
		if us == White {
			startRank = Rank2
		} else {
			startRank = Rank7
		}
		if startRank.IsSet(from) && push1 != 0 {
			var push2 Bitboard
			if us == White {
				push2 = push1.North() & empty
			} else {
				push2 = push1.South() & empty
			}
			push2.ForEach(func(to Square) { emit(from, to) })
		}

		attacks := PawnAttacks(from, us) & enemies
		attacks.ForEach(func(to Square) { emit(from, to) })
	})
}

// addPromoUnchecked adds all four promotion moves without further filtering.
func addPromoUnchecked(ml *MoveList, from, to Square) {
	addPromotions(ml, from, to)
}

// generateEnPassantLegal handles the en passant special cases: the normal
// diagonal-pin restriction (handled through the pin mask, since the
// destination square lies on the same diagonal as the pinning ray whenever
// the capture is legal) and the horizontal pin-through-the-captured-pawn
// case, where removing both the capturing and captured pawns from the same
// rank exposes the king to a rook or queen along that rank.
func (p *Position) generateEnPassantLegal(ml *MoveList, us Color, numCheckers int, checkers, pinned Bitboard, pinMask [64]Bitboard, kingSq Square, occupied Bitboard) {
	if p.EnPassant == NoSquare {
		return
	}
	them := us.Other()
	epSq := p.EnPassant
	epBB := SquareBB(epSq)

	var capturedSq Square
	if us == White {
		capturedSq = epSq - 8
	} else {
		capturedSq = epSq + 8
	}
	capturedBB := SquareBB(capturedSq)

	if numCheckers == 1 && checkers != capturedBB {
		return
	}

	var attackers Bitboard
	if us == White {
		attackers = (epBB.SouthWest() | epBB.SouthEast()) & p.Pieces[us][Pawn]
	} else {
		attackers = (epBB.NorthWest() | epBB.NorthEast()) & p.Pieces[us][Pawn]
	}

	attackers.ForEach(func(from Square) {
		if pinned.IsSet(from) && !pinMask[from].IsSet(epSq) {
			return
		}

		// Horizontal pin trick: after both pawns vanish from the rank,
		// check whether an enemy rook/queen now attacks the king along it.
		occAfter := occupied &^ SquareBB(from) &^ capturedBB
		rank := RankMask[kingSq.Rank()]
		if rank.IsSet(from) && rank.IsSet(capturedSq) {
			raySliders := p.Pieces[them][Rook] | p.Pieces[them][Queen]
			if RookAttacks(kingSq, occAfter)&raySliders != 0 {
				return
			}
		}

		ml.Add(NewEnPassant(from, epSq))
	})
}

// PawnAttacksBB returns the union of attack squares for every pawn in bb.
func PawnAttacksBB(bb Bitboard, c Color) Bitboard {
	if c == White {
		return bb.NorthWest() | bb.NorthEast()
	}
	return bb.SouthWest() | bb.SouthEast()
}

// GeneratePseudoLegalMoves generates all pseudo-legal moves (may leave king
// in check). Kept for callers that only need a cheap superset, such as move
// ordering probes; search and perft use GenerateLegalMoves.
func (p *Position) GeneratePseudoLegalMoves() *MoveList {
	ml := NewMoveList()
	p.generateAllMoves(ml)
	return ml
}

func (p *Position) generateAllMoves(ml *MoveList) {
	us := p.SideToMove
	occupied := p.AllOccupied
	enemies := p.Occupied[us.Other()]

	p.generatePawnMovesPseudo(ml, us, enemies, occupied)

	p.Pieces[us][Knight].ForEach(func(from Square) {
		(KnightAttacks(from) &^ p.Occupied[us]).ForEach(func(to Square) { ml.Add(NewMove(from, to)) })
	})
	p.Pieces[us][Bishop].ForEach(func(from Square) {
		(BishopAttacks(from, occupied) &^ p.Occupied[us]).ForEach(func(to Square) { ml.Add(NewMove(from, to)) })
	})
	p.Pieces[us][Rook].ForEach(func(from Square) {
		(RookAttacks(from, occupied) &^ p.Occupied[us]).ForEach(func(to Square) { ml.Add(NewMove(from, to)) })
	})
	p.Pieces[us][Queen].ForEach(func(from Square) {
		(QueenAttacks(from, occupied) &^ p.Occupied[us]).ForEach(func(to Square) { ml.Add(NewMove(from, to)) })
	})

	p.generateKingMoves(ml, us)
	p.generateCastlingMoves(ml, us, 0)
}

func (p *Position) generatePawnMovesPseudo(ml *MoveList, us Color, enemies, occupied Bitboard) {
	pawns := p.Pieces[us][Pawn]
	empty := ^occupied

	var push1, push2, attackL, attackR Bitboard
	var promotionRank Bitboard
	var pushDir int

	if us == White {
		push1 = pawns.North() & empty
		push2 = (push1 & Rank3).North() & empty
		attackL = pawns.NorthWest() & enemies
		attackR = pawns.NorthEast() & enemies
		promotionRank = Rank8
		pushDir = 8
	} else {
		push1 = pawns.South() & empty
		push2 = (push1 & Rank6).South() & empty
		attackL = pawns.SouthWest() & enemies
		attackR = pawns.SouthEast() & enemies
		promotionRank = Rank1
		pushDir = -8
	}

	nonPromo := push1 &^ promotionRank
	nonPromo.ForEach(func(to Square) { ml.Add(NewMove(Square(int(to)-pushDir), to)) })
	push2.ForEach(func(to Square) { ml.Add(NewMove(Square(int(to)-2*pushDir), to)) })

	(attackL &^ promotionRank).ForEach(func(to Square) { ml.Add(NewMove(Square(int(to)-pushDir+1), to)) })
	(attackR &^ promotionRank).ForEach(func(to Square) { ml.Add(NewMove(Square(int(to)-pushDir-1), to)) })

	(push1 & promotionRank).ForEach(func(to Square) { addPromotions(ml, Square(int(to)-pushDir), to) })
	(attackL & promotionRank).ForEach(func(to Square) { addPromotions(ml, Square(int(to)-pushDir+1), to) })
	(attackR & promotionRank).ForEach(func(to Square) { addPromotions(ml, Square(int(to)-pushDir-1), to) })

	if p.EnPassant != NoSquare {
		epBB := SquareBB(p.EnPassant)
		var epAttackers Bitboard
		if us == White {
			epAttackers = (epBB.SouthWest() | epBB.SouthEast()) & pawns
		} else {
			epAttackers = (epBB.NorthWest() | epBB.NorthEast()) & pawns
		}
		epAttackers.ForEach(func(from Square) { ml.Add(NewEnPassant(from, p.EnPassant)) })
	}
}

// addPromotions adds all four promotion moves, queen first per the
// strongest-piece-first convention used for move ordering.
func addPromotions(ml *MoveList, from, to Square) {
	ml.Add(NewPromotion(from, to, Queen))
	ml.Add(NewPromotion(from, to, Rook))
	ml.Add(NewPromotion(from, to, Bishop))
	ml.Add(NewPromotion(from, to, Knight))
}

func (p *Position) generateKingMoves(ml *MoveList, us Color) {
	from := p.KingSquare[us]
	(KingAttacks(from) &^ p.Occupied[us]).ForEach(func(to Square) { ml.Add(NewMove(from, to)) })
}

// generateCastlingMoves appends legal castling moves. attacked, when
// non-zero, is the precomputed enemy-attacked-squares bitboard from
// GenerateLegalMoves; when zero (pseudo-legal path) squares are probed
// individually with IsSquareAttacked.
func (p *Position) generateCastlingMoves(ml *MoveList, us Color, attacked Bitboard) {
	them := us.Other()

	isAttacked := func(sq Square) bool {
		if attacked != 0 {
			return attacked.IsSet(sq)
		}
		return p.IsSquareAttacked(sq, them)
	}

	if us == White {
		if p.CastlingRights&WhiteKingSideCastle != 0 {
			if p.AllOccupied&((1<<F1)|(1<<G1)) == 0 {
				if !isAttacked(E1) && !isAttacked(F1) && !isAttacked(G1) {
					ml.Add(NewCastling(E1, G1))
				}
			}
		}
		if p.CastlingRights&WhiteQueenSideCastle != 0 {
			if p.AllOccupied&((1<<B1)|(1<<C1)|(1<<D1)) == 0 {
				if !isAttacked(E1) && !isAttacked(D1) && !isAttacked(C1) {
					ml.Add(NewCastling(E1, C1))
				}
			}
		}
	} else {
		if p.CastlingRights&BlackKingSideCastle != 0 {
			if p.AllOccupied&((1<<F8)|(1<<G8)) == 0 {
				if !isAttacked(E8) && !isAttacked(F8) && !isAttacked(G8) {
					ml.Add(NewCastling(E8, G8))
				}
			}
		}
		if p.CastlingRights&BlackQueenSideCastle != 0 {
			if p.AllOccupied&((1<<B8)|(1<<C8)|(1<<D8)) == 0 {
				if !isAttacked(E8) && !isAttacked(D8) && !isAttacked(C8) {
					ml.Add(NewCastling(E8, C8))
				}
			}
		}
	}
}

// GenerateCaptures generates capture and promotion moves only, used by
// quiescence-style move ordering probes in the evaluator pipeline.
func (p *Position) GenerateCaptures() *MoveList {
	all := p.GenerateLegalMoves()
	captures := NewMoveList()
	for i := 0; i < all.Len(); i++ {
		m := all.Get(i)
		if m.IsCapture(p) || m.IsPromotion() {
			captures.Add(m)
		}
	}
	return captures
}

// filterLegalMoves filters a pseudo-legal move list via make/unmake, a slow
// path alongside the fast legal generator. Nothing in the package calls it.
func (p *Position) filterLegalMoves(ml *MoveList) *MoveList {
	result := NewMoveList()
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		if p.IsLegal(m) {
			result.Add(m)
		}
	}
	return result
}

// IsLegal returns true if the move is legal (doesn't leave king in check).
// Uses make/unmake; kept for the slow-path cross-check used in tests.
func (p *Position) IsLegal(m Move) bool {
	us := p.SideToMove
	them := us.Other()
	from := m.From()
	ksq := p.KingSquare[us]

	if from == ksq {
		if m.IsCastling() {
			return true
		}
		occ := p.AllOccupied &^ SquareBB(from)
		return p.AttackersByColor(m.To(), them, occ) == 0
	}

	undo := p.MakeMove(m)
	if !undo.Valid {
		return false
	}
	attacked := p.IsSquareAttacked(ksq, them)
	p.UnmakeMove(m, undo)
	return !attacked
}

// HasLegalMoves returns true if the side to move has any legal moves.
func (p *Position) HasLegalMoves() bool {
	return p.GenerateLegalMoves().Len() > 0
}

// IsCheckmate returns true if the position is checkmate.
func (p *Position) IsCheckmate() bool {
	return p.InCheck() && !p.HasLegalMoves()
}

// IsStalemate returns true if the position is stalemate.
func (p *Position) IsStalemate() bool {
	return !p.InCheck() && !p.HasLegalMoves()
}

// IsDraw returns true if the position is a draw by stalemate, the 50-move
// rule, or insufficient material. Threefold repetition is tracked by the
// caller (the MCTS tree walks ancestor hashes; a single Position has no
// history to check against).
func (p *Position) IsDraw() bool {
	if p.IsStalemate() {
		return true
	}
	if p.HalfMoveClock >= 100 {
		return true
	}
	return p.IsInsufficientMaterial()
}

// IsInsufficientMaterial returns true if neither side can possibly deliver
// checkmate: king-vs-king, or king-and-one-minor-vs-king.
func (p *Position) IsInsufficientMaterial() bool {
	if p.Pieces[White][Pawn]|p.Pieces[Black][Pawn] != 0 ||
		p.Pieces[White][Rook]|p.Pieces[Black][Rook] != 0 ||
		p.Pieces[White][Queen]|p.Pieces[Black][Queen] != 0 {
		return false
	}

	wMinors := p.Pieces[White][Knight].PopCount() + p.Pieces[White][Bishop].PopCount()
	bMinors := p.Pieces[Black][Knight].PopCount() + p.Pieces[Black][Bishop].PopCount()

	if wMinors == 0 && bMinors == 0 {
		return true
	}
	if wMinors <= 1 && bMinors == 0 {
		return true
	}
	if bMinors <= 1 && wMinors == 0 {
		return true
	}
	return false
}
