package eventmodels

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CsvCandleDTO is the row shape the backtester's CSV loader hands to gocsv
// after the header row has been normalized to canonical column names. All
// fields are strings so a single malformed row can be skipped instead of
// failing the whole file.
type CsvCandleDTO struct {
	Timestamp string `csv:"timestamp"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	Volume    string `csv:"volume"`
}

var csvTimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

func parseCsvTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	for _, layout := range csvTimestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	// fall back to unix epoch seconds or milliseconds
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		if epoch > 1e12 {
			return time.UnixMilli(epoch).UTC(), nil
		}

		return time.Unix(epoch, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", value)
}

func (dto *CsvCandleDTO) ToModel() (*Candle, error) {
	t, err := parseCsvTimestamp(dto.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("error parsing timestamp: %w", err)
	}

	open, err := strconv.ParseFloat(strings.TrimSpace(dto.Open), 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing open: %w", err)
	}

	high, err := strconv.ParseFloat(strings.TrimSpace(dto.High), 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing high: %w", err)
	}

	low, err := strconv.ParseFloat(strings.TrimSpace(dto.Low), 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing low: %w", err)
	}

	closePrice, err := strconv.ParseFloat(strings.TrimSpace(dto.Close), 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing close: %w", err)
	}

	// volume column is optional and defaults to 0
	volume := 0.0
	if v := strings.TrimSpace(dto.Volume); v != "" {
		volume, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing volume: %w", err)
		}
	}

	candle := NewCandle(t, open, high, low, closePrice, volume)
	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid candle: %w", err)
	}

	return candle, nil
}
