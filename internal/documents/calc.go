package documents

import "math"

// LineTotals holds the derived monetary fields of one line.
type LineTotals struct {
	DiscountAmount float64
	TaxableBase    float64
	TaxAmount      float64
	LineTotal      float64
}

// CalculateLineTotals derives discount, tax and total from raw inputs at
// full precision. Callers must not round these before summation.
func CalculateLineTotals(quantity, unitPrice, discountPercent, taxPercent float64) LineTotals {
	grossAmount := quantity * unitPrice
	discountAmount := grossAmount * (discountPercent / 100)
	taxableBase := grossAmount - discountAmount
	taxAmount := taxableBase * (taxPercent / 100)
	return LineTotals{
		DiscountAmount: discountAmount,
		TaxableBase:    taxableBase,
		TaxAmount:      taxAmount,
		LineTotal:      taxableBase + taxAmount,
	}
}

// Totals holds the document-level sums.
type Totals struct {
	Subtotal      float64
	DiscountTotal float64
	TaxTotal      float64
	GrandTotal    float64
}

// SumLines accumulates full-precision line values and rounds only the
// final figures. Rounding intermediates would accumulate drift across
// long line sets.
func SumLines(lines []Line) Totals {
	var subtotal, discount, tax float64
	for _, line := range lines {
		t := CalculateLineTotals(line.Quantity, line.UnitPrice, line.DiscountPercent, line.TaxPercent)
		subtotal += line.Quantity * line.UnitPrice
		discount += t.DiscountAmount
		tax += t.TaxAmount
	}
	totals := Totals{
		Subtotal:      Round2(subtotal),
		DiscountTotal: Round2(discount),
		TaxTotal:      Round2(tax),
	}
	// Derived from the persisted components so the identity holds to the
	// cent regardless of how the full-precision sums rounded.
	totals.GrandTotal = Round2(totals.Subtotal - totals.DiscountTotal + totals.TaxTotal)
	return totals
}

// ApplyLineTotals recomputes and stores each line's derived fields,
// rounded for persistence.
func ApplyLineTotals(lines []Line) {
	for i := range lines {
		t := CalculateLineTotals(lines[i].Quantity, lines[i].UnitPrice, lines[i].DiscountPercent, lines[i].TaxPercent)
		lines[i].DiscountAmount = Round2(t.DiscountAmount)
		lines[i].TaxAmount = Round2(t.TaxAmount)
		lines[i].LineTotal = Round2(t.LineTotal)
	}
}

// Round2 rounds to 2 decimal places, the precision of persisted monetary
// fields.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round3 rounds to the 3-decimal precision of quantities.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
