package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/harvester/internal/api/handlers"
	"github.com/bigkaa/harvester/internal/database"
	"github.com/bigkaa/harvester/internal/domain/model"
	"github.com/bigkaa/harvester/internal/output"
	"github.com/bigkaa/harvester/internal/reddit"
	"github.com/bigkaa/harvester/internal/server"
	"github.com/bigkaa/harvester/internal/service"
	"github.com/bigkaa/harvester/internal/twitter"
)

// pushTimeout — таймаут отправки метрик в Pushgateway после задачи.
const pushTimeout = 10 * time.Second

// job — задача сбора.
type job interface {
	Run(ctx context.Context) (*model.RunResult, error)
}

func newCollectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Сбор записей в PostgreSQL",
	}
	cmd.AddCommand(
		newRangeCmd(a, model.JobSubredditComments, "subreddit-comments", "Комментарии всех постов сабреддита за диапазон дат"),
		newRangeCmd(a, model.JobSubredditSubmissions, "subreddit-submissions", "Посты сабреддита за диапазон дат"),
		newStreamCmd(a),
		newRedditorHistoryCmd(a),
		newTwitterTimelineCmd(a),
	)
	return cmd
}

func newRangeCmd(a *app, kind model.JobKind, use, short string) *cobra.Command {
	var (
		subreddit string
		table     string
		dates     []string
		unsafe    bool
	)
	cmd := &cobra.Command{
		Use:   use + " -s NAME -r START END",
		Short: short,
		// -r START END: вторая дата приходит позиционным аргументом
		Args: invalidArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target, err := model.NewTarget(kind, subreddit, table)
			if err != nil {
				return err
			}
			start, end, err := parseRange(append(dates, args...))
			if err != nil {
				return err
			}

			prompt := fmt.Sprintf("Собрать %s r/%s с %s по %s в таблицу %s?",
				kindTitle(kind), target.Name, start.Format(time.DateTime), end.Format(time.DateTime), target.Table)
			if unsafe {
				prompt += " Проверка существующих id отключена."
			}
			ok, err := a.confirm(ctx, prompt)
			if err != nil {
				return err
			}
			if !ok {
				a.logger.Info("Сбор отменён оператором")
				return nil
			}

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rc, err := a.redditClient(ctx)
			if err != nil {
				return err
			}

			opts := service.RangeOptions{Target: target, Start: start, End: end, Unsafe: unsafe}
			var j job = service.NewSubredditSubmissionsJob(a.env(pool), rc, opts)
			if kind == model.JobSubredditComments {
				j = service.NewSubredditCommentsJob(a.env(pool), rc, opts)
			}
			return a.runJob(ctx, j)
		},
	}
	cmd.Flags().StringVarP(&subreddit, "subreddit", "s", "", "сабреддит")
	cmd.Flags().StringVarP(&table, "table", "t", "", "таблица назначения")
	cmd.Flags().StringSliceVarP(&dates, "range", "r", nil, "диапазон START END в формате yyyymmddhhmmss")
	cmd.Flags().BoolVarP(&unsafe, "unsafe", "u", false, "не загружать существующие id (дубликаты отсекает первичный ключ)")
	return cmd
}

func newStreamCmd(a *app) *cobra.Command {
	var (
		subreddit   string
		table       string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "subreddit-stream",
		Short: "Потоковый сбор новых комментариев сабреддита до прерывания",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			target, err := model.NewTarget(model.JobSubredditStream, subreddit, table)
			if err != nil {
				return err
			}
			ok, err := a.confirm(ctx, fmt.Sprintf("Запустить потоковый сбор r/%s в таблицу %s?", target.Name, target.Table))
			if err != nil {
				return err
			}
			if !ok {
				a.logger.Info("Сбор отменён оператором")
				return nil
			}

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rc, err := a.redditClient(ctx)
			if err != nil {
				return err
			}

			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			job := service.NewSubredditStreamJob(a.env(pool), rc, target)
			stopServer := a.startStreamServer(ctx, pool, metricsAddr, job)
			defer stopServer()

			return a.runJob(ctx, job)
		},
	}
	cmd.Flags().StringVarP(&subreddit, "subreddit", "s", "", "сабреддит")
	cmd.Flags().StringVarP(&table, "table", "t", "", "таблица назначения")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "адрес сервера /metrics и /health (например :9100)")
	return cmd
}

// startStreamServer запускает служебный HTTP-сервер и мониторинг зависимостей.
// Пустой addr — ничего не запускается. Возвращает функцию остановки.
func (a *app) startStreamServer(ctx context.Context, pool *pgxpool.Pool, addr string, stream handlers.ReadinessChecker) func() {
	if addr == "" {
		return func() {}
	}

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)

	var deps handlers.DependencyReporter
	dh, err := service.NewDephealthService(service.DephealthOptions{
		ServiceID:      "harvester-stream",
		Group:          a.cfg.DephealthGroup,
		DB:             pgDB,
		DatabaseURL:    a.cfg.DatabaseURL(),
		RedditURL:      a.cfg.RedditAuthURL,
		PushgatewayURL: a.cfg.PushgatewayURL,
		Interval:       a.cfg.DephealthCheckInterval,
	}, a.logger)
	if err != nil {
		a.logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dh = nil
	} else if startErr := dh.Start(ctx); startErr != nil {
		a.logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dh = nil
	} else {
		deps = dh
	}

	health := handlers.NewHealthHandler(deps,
		handlers.Check{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		handlers.Check{Name: "stream", Checker: stream},
	)
	srv := server.New(addr, a.cfg.ShutdownTimeout, a.logger, health)

	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(srvCtx); err != nil {
			a.logger.Error("Служебный HTTP-сервер остановлен с ошибкой", slog.String("error", err.Error()))
		}
	}()

	return func() {
		cancel()
		<-done
		if dh != nil {
			dh.Stop()
		}
		_ = pgDB.Close()
	}
}

func newRedditorHistoryCmd(a *app) *cobra.Command {
	var (
		user, table string
		unsafe      bool
	)
	cmd := &cobra.Command{
		Use:   "redditor-history",
		Short: "Новые комментарии пользователя Reddit",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			target, err := model.NewTarget(model.JobRedditorHistory, user, table)
			if err != nil {
				return err
			}

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rc, err := a.redditClient(ctx)
			if err != nil {
				return err
			}
			return a.runJob(ctx, service.NewRedditorHistoryJob(a.env(pool), rc, service.HistoryOptions{Target: target, Unsafe: unsafe}))
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "пользователь Reddit")
	cmd.Flags().StringVarP(&table, "table", "t", "", "таблица назначения")
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "не загружать существующие id")
	return cmd
}

func newTwitterTimelineCmd(a *app) *cobra.Command {
	var (
		user, table, csvPath string
		unsafe               bool
	)
	cmd := &cobra.Command{
		Use:   "twitter-timeline",
		Short: "Новые твиты пользователя Twitter",
		Args:  invalidArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			target, err := model.NewTarget(model.JobTwitterTimeline, user, table)
			if err != nil {
				return err
			}
			if err := a.cfg.RequireTwitter(); err != nil {
				return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
			}

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			// Выгрузка появляется на диске после сбора, в том числе прерванного
			var (
				csvOut  io.Writer
				csvFile *output.File
			)
			if csvPath != "" {
				csvFile, err = output.Create(csvPath)
				if err != nil {
					return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
				}
				defer csvFile.Abort()
				csvOut = csvFile
			}

			tc := twitter.New(twitter.Options{
				APIURL:      a.cfg.TwitterAPIURL,
				BearerToken: a.cfg.TwitterBearerToken,
				Timeout:     a.cfg.HTTPTimeout,
				RateLimit:   a.cfg.TwitterRateLimit,
				PageSize:    a.cfg.TwitterPageSize,
			}, a.logger)

			err = a.runJob(ctx, service.NewTwitterTimelineJob(a.env(pool), tc, service.HistoryOptions{Target: target, Unsafe: unsafe}, csvOut))
			if csvFile != nil {
				if cerr := csvFile.Commit(); cerr != nil {
					return errors.Join(err, cerr)
				}
				a.logger.Info("CSV-выгрузка записана", slog.String("path", csvFile.Path()))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "пользователь Twitter")
	cmd.Flags().StringVarP(&table, "table", "t", "", "таблица назначения")
	cmd.Flags().StringVarP(&csvPath, "output", "o", "", "CSV-файл выгрузки")
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "не загружать существующие id")
	return cmd
}

// redditClient создаёт клиент Reddit и проверяет учётные данные получением токена.
func (a *app) redditClient(ctx context.Context) (*reddit.Client, error) {
	if err := a.cfg.RequireReddit(); err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	rc := reddit.New(reddit.Options{
		AuthURL:      a.cfg.RedditAuthURL,
		APIURL:       a.cfg.RedditAPIURL,
		ClientID:     a.cfg.RedditClientID,
		ClientSecret: a.cfg.RedditClientSecret,
		UserAgent:    a.cfg.RedditUserAgent,
		Timeout:      a.cfg.HTTPTimeout,
		RateLimit:    a.cfg.RedditRateLimit,
		PageSize:     a.cfg.RedditPageSize,
	}, a.logger)

	if _, err := rc.Token(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: Reddit API: %w", service.ErrConnection, err)
	}
	return rc, nil
}

// runJob выполняет задачу, печатает итог и отправляет метрики в Pushgateway.
func (a *app) runJob(ctx context.Context, j job) error {
	result, err := j.Run(ctx)
	if result == nil {
		return err
	}

	printSummary(a.out, result)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if perr := service.PushMetrics(pctx, a.cfg.PushgatewayURL, result, a.logger); perr != nil {
		a.logger.Warn("Метрики не отправлены", slog.String("error", perr.Error()))
	}
	return err
}

func kindTitle(kind model.JobKind) string {
	if kind == model.JobSubredditSubmissions {
		return "посты"
	}
	return "комментарии"
}
