package domain

// ConfirmationPolicy describes the trailing block window swept on every
// cycle: [block - Factor*Depth, block - Depth].
type ConfirmationPolicy struct {
	Depth  uint64
	Factor uint64
}

// Window returns the inclusive block range to confirm after block has been
// stored. ok is false when block has not reached Depth yet.
func (p ConfirmationPolicy) Window(block uint64) (from, to uint64, ok bool) {
	if block < p.Depth {
		return 0, 0, false
	}
	factor := p.Factor
	if factor == 0 {
		factor = 1
	}
	to = block - p.Depth
	span := factor * p.Depth
	if block > span {
		from = block - span
	}
	return from, to, true
}
