package pool

import "fmt"

// Excess is the part of a contribution that takes a round's total from before
// to after and lies above limit. It is zero unless after > max(limit, before).
func Excess(before, after, limit Amount) Amount {
	floor := limit
	if before.Gt(&floor) {
		floor = before
	}
	if !after.Gt(&floor) {
		return Amount{}
	}
	var out Amount
	out.Sub(&after, &floor)
	return out
}

// FundShare is floor(excess * percent / 100).
func FundShare(excess Amount, percent uint64) (Amount, error) {
	return mulDiv(excess, Units(percent), Units(100))
}

// RefundFor is what a contribution c to a round with total t and cap limit
// returns: c in full when t <= limit, floor(c*limit/t) otherwise. Summed over
// all contributors of an over-cap round this never exceeds limit.
func RefundFor(c, t, limit Amount) (Amount, error) {
	if c.IsZero() {
		return Amount{}, nil
	}
	if !t.Gt(&limit) {
		return c, nil
	}
	return mulDiv(c, limit, t)
}

// mulDiv computes floor(x*y/d) with a 512-bit intermediate product.
func mulDiv(x, y, d Amount) (Amount, error) {
	if d.IsZero() {
		return Amount{}, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	var out Amount
	if _, overflow := out.MulDivOverflow(&x, &y, &d); overflow {
		return Amount{}, fmt.Errorf("%w: %s*%s/%s", ErrOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return out, nil
}
