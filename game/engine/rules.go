package engine

// lines lists the 8 winning lines: rows, then columns, then the two diagonals
var lines = [8][BoardSize]Position{
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 2}, {1, 1}, {2, 0}},
}

// CheckWin returns the first completed line of the board, in the order of lines
func CheckWin(b Board) (WinningLine, bool) {
	for _, line := range lines {
		s := b.At(line[0])
		if s == SymbolNone {
			continue
		}
		if b.At(line[1]) == s && b.At(line[2]) == s {
			return WinningLine{Positions: line, Symbol: s}, true
		}
	}
	return WinningLine{}, false
}

// IsFull reports whether no empty cell remains
func IsFull(b Board) bool {
	for _, row := range b {
		for _, cell := range row {
			if cell == SymbolNone {
				return false
			}
		}
	}
	return true
}
