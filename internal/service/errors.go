// errors.go — ошибки сервисного слоя и коды завершения процесса.
package service

import (
	"context"
	"errors"

	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/domain/scan"
	"github.com/bigkaa/harvester/internal/reddit"
	"github.com/bigkaa/harvester/internal/twitter"
)

var (
	// ErrDedupUnavailable — не удалось получить существующие id: сбор прерывается,
	// записи не пропускаются молча.
	ErrDedupUnavailable = errors.New("фильтр дубликатов недоступен")
	// ErrInvalidInput — некорректные аргументы или конфигурация.
	ErrInvalidInput = errors.New("некорректные входные данные")
	// ErrConnection — хранилище или API недоступны до начала сбора.
	ErrConnection = errors.New("ошибка подключения")
	// ErrInterrupted — сбор прерван оператором; буфер записан.
	ErrInterrupted = errors.New("сбор прерван")
)

// Коды завершения процесса.
const (
	ExitOK          = 0
	ExitConnection  = 1
	ExitCollection  = 2
	ExitInvalid     = 3
	ExitInterrupted = 130
)

// Classify переводит ошибку в код завершения.
// Опирается только на sentinel-ошибки и типы ошибок, без разбора строк.
func Classify(err error) int {
	if err == nil {
		return ExitOK
	}
	// Прерывание — первым: после него ошибки записи буфера вторичны
	if errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, model.ErrInvalidTarget) ||
		errors.Is(err, model.ErrInvalidTable) ||
		errors.Is(err, scan.ErrInvalidRange) ||
		errors.Is(err, reddit.ErrNotFound) ||
		errors.Is(err, twitter.ErrNotFound) {
		return ExitInvalid
	}
	// Сетевые ошибки считаются ошибкой подключения, только если случились
	// до начала сбора (обёрнуты в ErrConnection); обрыв во время сбора — код 2
	if errors.Is(err, ErrConnection) ||
		errors.Is(err, reddit.ErrUnauthorized) ||
		errors.Is(err, twitter.ErrUnauthorized) {
		return ExitConnection
	}
	return ExitCollection
}

// fatalAPIError — ошибка API, после которой повтор бессмыслен.
func fatalAPIError(err error) bool {
	return errors.Is(err, reddit.ErrUnauthorized) ||
		errors.Is(err, twitter.ErrUnauthorized) ||
		errors.Is(err, reddit.ErrNotFound) ||
		errors.Is(err, twitter.ErrNotFound)
}
