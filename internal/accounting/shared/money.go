package shared

import "math"

// AmountEpsilon is the canonical tolerance for balance comparisons. It is
// applied uniformly to journal balancing, trial balance checks and the
// inventory-to-GL tie-out.
const AmountEpsilon = 0.01

// QtyEpsilon tolerates float drift on inventory quantities.
const QtyEpsilon = 0.0001

// Round2 rounds a currency amount to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AmountsEqual reports whether two currency amounts agree within epsilon.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) < AmountEpsilon
}
