// Точка входа harvester — инкрементальный сбор комментариев и постов Reddit
// и лент Twitter в PostgreSQL с дедупликацией и точками возобновления.
// Загружает конфигурацию, подключается к PostgreSQL, выполняет выбранную
// команду и завершается с кодом service.Classify. SIGINT/SIGTERM отменяют
// контекст: задача записывает буфер и завершается с кодом 130.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/harvester/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{in: os.Stdin, out: os.Stdout}
	err := newRootCmd(a).ExecuteContext(ctx)
	code := service.Classify(err)
	if err != nil {
		logger := a.logger
		if logger == nil {
			logger = slog.Default()
		}
		if code == service.ExitInterrupted {
			logger.Warn("Работа прервана", slog.String("error", err.Error()), slog.Int("exit_code", code))
		} else {
			logger.Error("Команда завершилась с ошибкой", slog.String("error", err.Error()), slog.Int("exit_code", code))
		}
	}
	return code
}
