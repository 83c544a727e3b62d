package pool

// RoundIndexAt maps a chain height to a round index. Heights before the start
// height belong to round 0.
func (p *Pool) RoundIndexAt(height int64) uint64 {
	return roundIndexAt(p.cfg.StartHeight, p.cfg.RoundLength, height)
}

func roundIndexAt(start int64, length uint64, height int64) uint64 {
	if height <= start {
		return 0
	}
	return uint64(height-start) / length
}

// Ended reports whether contributions are closed at height.
func (p *Pool) Ended(height int64) bool {
	return p.RoundIndexAt(height) >= p.cfg.RoundCount
}

// LastClosedRound returns the greatest round index eligible for refund at
// height. Once the pool has ended every round up to RoundCount-1 is closed.
func (p *Pool) LastClosedRound(height int64) (uint64, bool) {
	cur := p.RoundIndexAt(height)
	if cur >= p.cfg.RoundCount {
		return p.cfg.RoundCount - 1, true
	}
	if cur == 0 {
		return 0, false
	}
	return cur - 1, true
}
