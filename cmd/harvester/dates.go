package main

import (
	"fmt"
	"time"

	"github.com/bigkaa/harvester/internal/service"
)

// dateLayout — формат дат командной строки (yyyymmddhhmmss, UTC).
const dateLayout = "20060102150405"

// parseRange разбирает пару дат. Порядок не важен: диапазон упорядочивается.
func parseRange(values []string) (time.Time, time.Time, error) {
	if len(values) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: ожидалось две даты yyyymmddhhmmss, получено %d", service.ErrInvalidInput, len(values))
	}

	start, err := time.ParseInLocation(dateLayout, values[0], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: дата %q не в формате yyyymmddhhmmss", service.ErrInvalidInput, values[0])
	}
	end, err := time.ParseInLocation(dateLayout, values[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: дата %q не в формате yyyymmddhhmmss", service.ErrInvalidInput, values[1])
	}

	if end.Before(start) {
		start, end = end, start
	}
	return start, end, nil
}
