package pricedoc

import (
	"strconv"
	"strings"
)

// KaratOrder is the display order for the full price strip.
var KaratOrder = []string{"24", "23", "22", "21", "20", "19", "18", "17", "16", "15", "14", "13", "12", "11", "10", "9", "8", "7", "6"}

// TableOrder is the shorter order used by the secondary table view.
var TableOrder = []string{"24", "22", "20", "18", "14", "10", "6"}

// Row is one rendered karat grade. Previous carries the last known value so
// a client can animate from it to Price.
type Row struct {
	Karat    string `json:"karat"`
	Label    string `json:"label"`
	Price    int64  `json:"price"`
	Known    bool   `json:"known"`
	Previous int64  `json:"previous"`
	Display  string `json:"display"`
}

// Table renders doc in the given karat order. previous may be nil.
func Table(doc Document, previous *Document, order []string) []Row {
	if len(order) == 0 {
		order = KaratOrder
	}
	rows := make([]Row, 0, len(order))
	for _, karat := range order {
		price, known := doc.Price(karat)
		row := Row{
			Karat:    karat,
			Label:    "K" + karat,
			Price:    price,
			Known:    known,
			Previous: price,
			Display:  "-",
		}
		if known {
			row.Display = FormatIDR(price)
		}
		if previous != nil {
			if prev, ok := previous.Price(karat); ok && prev != 0 {
				row.Previous = prev
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// FormatIDR formats an amount as rupiah with dot thousands separators.
func FormatIDR(amount int64) string {
	negative := amount < 0
	magnitude := uint64(amount)
	if negative {
		magnitude = uint64(-amount)
	}
	digits := strconv.FormatUint(magnitude, 10)
	var b strings.Builder
	b.WriteString("Rp ")
	if negative {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String()
}
