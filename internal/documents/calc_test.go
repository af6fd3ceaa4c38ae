package documents

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateLineTotals(t *testing.T) {
	totals := CalculateLineTotals(10, 1000, 0, 16)
	require.InDelta(t, 0.0, totals.DiscountAmount, 0.0001)
	require.InDelta(t, 10000.0, totals.TaxableBase, 0.0001)
	require.InDelta(t, 1600.0, totals.TaxAmount, 0.0001)
	require.InDelta(t, 11600.0, totals.LineTotal, 0.0001)
}

func TestCalculateLineTotalsDiscountBeforeTax(t *testing.T) {
	// Tax applies to the discounted base, never the gross amount.
	totals := CalculateLineTotals(2, 500, 10, 16)
	require.InDelta(t, 100.0, totals.DiscountAmount, 0.0001)
	require.InDelta(t, 900.0, totals.TaxableBase, 0.0001)
	require.InDelta(t, 144.0, totals.TaxAmount, 0.0001)
	require.InDelta(t, 1044.0, totals.LineTotal, 0.0001)
}

func TestSumLinesIdentityHolds(t *testing.T) {
	lines := []Line{
		{Quantity: 3, UnitPrice: 33.335, DiscountPercent: 7.5, TaxPercent: 16},
		{Quantity: 1.125, UnitPrice: 99.99, TaxPercent: 5},
		{Quantity: 7, UnitPrice: 0.013, TaxPercent: 16},
	}
	totals := SumLines(lines)
	require.InDelta(t, totals.Subtotal-totals.DiscountTotal+totals.TaxTotal, totals.GrandTotal, 0.0001)
}

func TestSumLinesNoDriftOverManyLines(t *testing.T) {
	// Per-line rounding before summation drifts over long documents;
	// summing at full precision must not.
	rng := rand.New(rand.NewSource(42))
	lines := make([]Line, 500)
	for i := range lines {
		lines[i] = Line{
			Quantity:        float64(rng.Intn(20)+1) / 4,
			UnitPrice:       float64(rng.Intn(100000)) / 1000,
			DiscountPercent: float64(rng.Intn(30)),
			TaxPercent:      16,
		}
	}
	totals := SumLines(lines)

	var subtotal, discount, tax float64
	for _, line := range lines {
		lt := CalculateLineTotals(line.Quantity, line.UnitPrice, line.DiscountPercent, line.TaxPercent)
		subtotal += line.Quantity * line.UnitPrice
		discount += lt.DiscountAmount
		tax += lt.TaxAmount
	}
	require.InDelta(t, subtotal, totals.Subtotal, 0.005)
	require.InDelta(t, discount, totals.DiscountTotal, 0.005)
	require.InDelta(t, tax, totals.TaxTotal, 0.005)
	require.InDelta(t, totals.Subtotal-totals.DiscountTotal+totals.TaxTotal, totals.GrandTotal, 0.0001)
}

func TestApplyLineTotals(t *testing.T) {
	lines := []Line{{Quantity: 10, UnitPrice: 1000, TaxPercent: 16}}
	ApplyLineTotals(lines)
	require.InDelta(t, 1600.0, lines[0].TaxAmount, 0.0001)
	require.InDelta(t, 11600.0, lines[0].LineTotal, 0.0001)
}

func TestRound2HalfUp(t *testing.T) {
	require.InDelta(t, 0.13, Round2(0.125), 0.0001)
	require.InDelta(t, -0.13, Round2(-0.125), 0.0001)
	require.InDelta(t, 2.346, Round3(2.3456), 0.0001)
}
