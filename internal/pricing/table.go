// Package pricing loads tenant price tables and resolves durations, cycle
// labels and prices in both directions: forward (duration → price) for
// payment initiation, and reverse (charged amount → row) for webhook
// deliveries that only know the amount.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lavsmart/cyclebridge/internal/models"
)

var (
	ErrPriceNotFound = errors.New("no price row matches")
	ErrBadPrice      = errors.New("unparseable price value")
)

// Fallback row keys. Sheets maintained by operators use "padrao"; the
// documented key is "default". Both are honored.
var fallbackKeys = []string{"default", "padrao"}

// amountTolerance is the reverse-lookup window. Strict less-than: a
// difference of exactly 0.05 does not match.
var amountTolerance = decimal.NewFromFloat(0.05)

// Table is one tenant's price configuration. Row order is the source
// order; reverse lookup takes the first match, so identical prices
// resolve deterministically to the earliest row.
type Table struct {
	rows []models.PriceRow
}

func NewTable(rows []models.PriceRow) *Table {
	return &Table{rows: rows}
}

func (t *Table) Rows() []models.PriceRow {
	return t.rows
}

// ForDuration finds the row for a machine and duration. A machine-specific
// row wins over a fallback row for the same duration.
func (t *Table) ForDuration(machineID string, minutes int) (models.PriceRow, error) {
	if row, ok := t.match(machineID, minutes); ok {
		return row, nil
	}
	for _, key := range fallbackKeys {
		if row, ok := t.match(key, minutes); ok {
			return row, nil
		}
	}
	return models.PriceRow{}, fmt.Errorf("%w: machine %s duration %d", ErrPriceNotFound, machineID, minutes)
}

// ForDry finds the dry-cycle row for a machine, with the same fallback
// precedence as ForDuration.
func (t *Table) ForDry(machineID string) (models.PriceRow, error) {
	if row, ok := t.matchLabel(machineID, DryCycleLabel); ok {
		return row, nil
	}
	for _, key := range fallbackKeys {
		if row, ok := t.matchLabel(key, DryCycleLabel); ok {
			return row, nil
		}
	}
	return models.PriceRow{}, fmt.Errorf("%w: machine %s dry cycle", ErrPriceNotFound, machineID)
}

// ForAmount scans rows in order for a price within tolerance of the
// charged amount and returns the first match.
func (t *Table) ForAmount(amount float64) (models.PriceRow, error) {
	target := decimal.NewFromFloat(amount)
	for _, row := range t.rows {
		diff := decimal.NewFromFloat(row.Price).Sub(target).Abs()
		if diff.LessThan(amountTolerance) {
			return row, nil
		}
	}
	return models.PriceRow{}, fmt.Errorf("%w: amount %.2f", ErrPriceNotFound, amount)
}

func (t *Table) match(machineID string, minutes int) (models.PriceRow, bool) {
	for _, row := range t.rows {
		if row.MachineID == machineID && row.DurationMinutes == minutes {
			return row, true
		}
	}
	return models.PriceRow{}, false
}

func (t *Table) matchLabel(machineID, label string) (models.PriceRow, bool) {
	for _, row := range t.rows {
		if row.MachineID == machineID && row.CycleLabel == label {
			return row, true
		}
	}
	return models.PriceRow{}, false
}

// ParsePrice accepts locale-formatted currency strings such as
// "R$ 12,50", " 12.50 " or "12,5".
func ParsePrice(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, raw)
	}
	f, _ := d.Float64()
	return f, nil
}
