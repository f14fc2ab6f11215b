package pricing

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

var ErrFetchFailed = errors.New("price table fetch failed")

// Cycle labels for the matrix schema. The 45-minute wash is the machine's
// standard automatic program.
const (
	QuickCycleLabel = "RAPIDO"
	AutoCycleLabel  = "AUTO"
	DryCycleLabel   = "SECAR"
)

const (
	QuickCycleMinutes = 15
	AutoCycleMinutes  = 45
	DryCycleMinutes   = 30
)

// Source yields a tenant's price table.
type Source interface {
	Fetch(ctx context.Context, url string) (*Table, error)
}

// HTTPSource fetches published CSV tables. Two row schemas are accepted:
//
//	machine_id, price_15, price_45, price_dry
//	price, duration_minutes, cycle_label
//
// The first is the operator-sheet export; the second is the flat list
// form, whose rows apply tenant-wide (fallback machine key).
type HTTPSource struct {
	client     *http.Client
	maxRetries int
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client:     &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, url string) (*Table, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			telemetry.Logger.Warn("Retrying price table fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt),
			)
		}

		table, err := s.fetchOnce(ctx, url)
		if err == nil {
			return table, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrFetchFailed, lastErr)
}

func (s *HTTPSource) fetchOnce(ctx context.Context, url string) (*Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	rows, err := ParseCSV(resp.Body)
	if err != nil {
		return nil, err
	}
	return NewTable(rows), nil
}

// ParseCSV reads either supported schema, sniffing on column count and
// skipping a header row when present.
func ParseCSV(r io.Reader) ([]models.PriceRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty price table")
	}

	var rows []models.PriceRow
	for i, rec := range records {
		switch {
		case len(rec) >= 4:
			parsed, err := parseMatrixRow(rec)
			if err != nil {
				if i == 0 {
					continue // header row
				}
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			rows = append(rows, parsed...)
		case len(rec) == 3:
			parsed, err := parseListRow(rec)
			if err != nil {
				if i == 0 {
					continue
				}
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			rows = append(rows, parsed)
		default:
			return nil, fmt.Errorf("row %d: unexpected column count %d", i+1, len(rec))
		}
	}

	if len(rows) == 0 {
		return nil, errors.New("price table has no data rows")
	}
	return rows, nil
}

// parseMatrixRow expands [machine_id, price_15, price_45, price_dry] into
// one row per cycle. Empty price cells mean the cycle is not offered.
func parseMatrixRow(rec []string) ([]models.PriceRow, error) {
	machineID := strings.TrimSpace(rec[0])
	if machineID == "" {
		return nil, errors.New("empty machine id")
	}

	cycles := []struct {
		cell    string
		minutes int
		label   string
	}{
		{rec[1], QuickCycleMinutes, QuickCycleLabel},
		{rec[2], AutoCycleMinutes, AutoCycleLabel},
		{rec[3], DryCycleMinutes, DryCycleLabel},
	}

	var rows []models.PriceRow
	for _, cycle := range cycles {
		if strings.TrimSpace(cycle.cell) == "" {
			continue
		}
		price, err := ParsePrice(cycle.cell)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.PriceRow{
			MachineID:       machineID,
			DurationMinutes: cycle.minutes,
			CycleLabel:      cycle.label,
			Price:           price,
		})
	}
	if len(rows) == 0 {
		return nil, errors.New("no prices in row")
	}
	return rows, nil
}

// parseListRow reads [price, duration_minutes, cycle_label]. List rows are
// tenant-wide, keyed by the fallback machine.
func parseListRow(rec []string) (models.PriceRow, error) {
	price, err := ParsePrice(rec[0])
	if err != nil {
		return models.PriceRow{}, err
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(rec[1]))
	if err != nil || minutes <= 0 {
		return models.PriceRow{}, fmt.Errorf("bad duration %q", rec[1])
	}
	label := strings.TrimSpace(rec[2])
	if label == "" {
		return models.PriceRow{}, errors.New("empty cycle label")
	}
	return models.PriceRow{
		MachineID:       fallbackKeys[0],
		DurationMinutes: minutes,
		CycleLabel:      label,
		Price:           price,
	}, nil
}
