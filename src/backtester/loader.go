package backtester

import (
	"fmt"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"

	"github.com/simtrade/engine/src/eventmodels"
)

var ErrNoValidCandles = fmt.Errorf("no valid candles after parsing and filtering")

// csvColumnFor maps a raw header cell to a canonical column name by
// case-insensitive substring matching. Unrecognized columns are dropped.
func csvColumnFor(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))

	switch {
	case strings.Contains(h, "timestamp"), strings.Contains(h, "time"), strings.Contains(h, "date"):
		return "timestamp"
	case strings.Contains(h, "open"):
		return "open"
	case strings.Contains(h, "high"):
		return "high"
	case strings.Contains(h, "low"):
		return "low"
	case strings.Contains(h, "close"):
		return "close"
	case strings.Contains(h, "volume"):
		return "volume"
	default:
		return ""
	}
}

// normalizeCsvHeader rewrites the header row to canonical column names so
// gocsv can bind rows to CsvCandleDTO. Volume is optional; the other five
// columns are required.
func normalizeCsvHeader(text string) (string, error) {
	text = strings.TrimLeft(text, "\uFEFF\n\r ")

	newline := strings.IndexByte(text, '\n')
	if newline < 0 {
		return "", fmt.Errorf("csv has no data rows")
	}

	rawHeader := strings.TrimRight(text[:newline], "\r")
	cells := strings.Split(rawHeader, ",")

	seen := make(map[string]bool)
	canonical := make([]string, len(cells))
	for i, cell := range cells {
		name := csvColumnFor(cell)
		if name == "" || seen[name] {
			// gocsv ignores columns with no matching csv tag
			canonical[i] = fmt.Sprintf("unused_%d", i)
			continue
		}

		seen[name] = true
		canonical[i] = name
	}

	for _, required := range []string{"timestamp", "open", "high", "low", "close"} {
		if !seen[required] {
			return "", fmt.Errorf("csv header is missing a %s column", required)
		}
	}

	return strings.Join(canonical, ",") + "\n" + dropMismatchedRows(text[newline+1:], len(cells)), nil
}

// dropMismatchedRows removes data rows whose field count differs from the
// header's, so one truncated line cannot fail the whole file. Rows count from
// the header being line 1.
func dropMismatchedRows(body string, fields int) string {
	lines := strings.Split(body, "\n")

	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if got := strings.Count(line, ",") + 1; got != fields {
			log.Warnf("LoadCandlesFromCSV: skipping row %d: expected %d fields, got %d", i+2, fields, got)
			continue
		}

		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

// LoadCandlesFromCSV parses raw delimited text into a sorted candle
// sequence. Malformed rows are skipped with a warning, never fatal; only a
// file yielding zero valid candles is an error.
func LoadCandlesFromCSV(text string) (eventmodels.Candles, error) {
	normalized, err := normalizeCsvHeader(text)
	if err != nil {
		return nil, fmt.Errorf("LoadCandlesFromCSV: %w", err)
	}

	var dtos []*eventmodels.CsvCandleDTO
	if err := gocsv.UnmarshalString(normalized, &dtos); err != nil {
		return nil, fmt.Errorf("LoadCandlesFromCSV: unmarshal: %w", err)
	}

	candles := make(eventmodels.Candles, 0, len(dtos))
	for i, dto := range dtos {
		candle, err := dto.ToModel()
		if err != nil {
			log.Warnf("LoadCandlesFromCSV: skipping row %d: %v", i+2, err)
			continue
		}

		candles = append(candles, candle)
	}

	if len(candles) == 0 {
		return nil, ErrNoValidCandles
	}

	candles.SortByTimestamp()

	return candles, nil
}

// FilterCandlesByDate keeps candles inside the [start, end] window. A zero
// bound is open-ended.
func FilterCandlesByDate(candles eventmodels.Candles, start, end time.Time) eventmodels.Candles {
	filtered := make(eventmodels.Candles, 0, len(candles))
	for _, candle := range candles {
		if !start.IsZero() && candle.Timestamp.Before(start) {
			continue
		}

		if !end.IsZero() && candle.Timestamp.After(end) {
			continue
		}

		filtered = append(filtered, candle)
	}

	return filtered
}
