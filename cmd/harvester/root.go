package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/harvester/internal/config"
	"github.com/bigkaa/harvester/internal/database"
	"github.com/bigkaa/harvester/internal/repository"
	"github.com/bigkaa/harvester/internal/service"
)

// app — состояние процесса, общее для команд.
type app struct {
	in  io.Reader
	out io.Writer

	configPath string
	debug      bool
	yes        bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Инкрементальный сбор Reddit и Twitter в PostgreSQL",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "файл конфигурации (yaml, toml, json)")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "подробное логирование")
	root.PersistentFlags().BoolVarP(&a.yes, "yes", "y", false, "не спрашивать подтверждение")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	})

	root.AddCommand(
		newCollectCmd(a),
		newReportCmd(a),
		newMigrateCmd(a),
		newCheckpointsCmd(a),
	)
	return root
}

// invalidArgs помечает ошибки позиционных аргументов как некорректный ввод.
func invalidArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
		}
		return nil
	}
}

// setup загружает конфигурацию и настраивает логирование.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	if a.debug {
		cfg.LogLevel = slog.LevelDebug
	}
	a.cfg = cfg
	a.logger = config.SetupLogger(cfg)
	a.logger.Debug("Конфигурация загружена", slog.String("version", config.Version))
	return nil
}

// connect применяет миграции и подключается к PostgreSQL.
// Вызывающий закрывает пул через defer.
func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if _, err := database.Migrate(a.cfg, a.logger); err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrConnection, err)
	}
	pool, err := database.Connect(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrConnection, err)
	}
	return pool, nil
}

// env собирает окружение задач сбора поверх пула.
func (a *app) env(pool *pgxpool.Pool) *service.Env {
	return &service.Env{
		Records:     repository.NewRecordRepository(pool),
		Checkpoints: repository.NewCheckpointRepository(pool),
		Subreddits:  repository.NewSubredditRegistry(pool),
		Writer:      service.NewBatchWriter(repository.NewTxRunner(pool), a.logger),
		Settings:    service.SettingsFromConfig(a.cfg),
		Logger:      a.logger,
	}
}

// confirm спрашивает подтверждение [y/N]; с флагом -y сразу true.
func (a *app) confirm(ctx context.Context, prompt string) (bool, error) {
	if a.yes {
		return true, nil
	}
	return askYesNo(ctx, a.in, a.out, prompt)
}

// askYesNo читает ответ оператора. Пустой ответ и конец ввода — «нет».
// Прерывание во время ожидания ответа возвращает ошибку ctx.
func askYesNo(ctx context.Context, in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)

	// Чтение stdin не прерывается: горутина остаётся ждать ввода до выхода процесса
	answer := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes", "д", "да":
			return true, nil
		}
		return false, nil
	}
}
