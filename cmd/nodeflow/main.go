package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/soochol/nodeflow/internal/api"
	"github.com/soochol/nodeflow/internal/approval"
	"github.com/soochol/nodeflow/internal/config"
	"github.com/soochol/nodeflow/internal/db"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/fetch"
	"github.com/soochol/nodeflow/internal/model"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodes"
	"github.com/soochol/nodeflow/internal/notify"
	"github.com/soochol/nodeflow/internal/repository"
	"github.com/soochol/nodeflow/internal/services"
	"github.com/soochol/nodeflow/internal/tools"
)

const usage = `nodeflow v0.1.0
Usage:
  nodeflow serve              start the HTTP server
  nodeflow validate <graph>   check a graph file (YAML or JSON)`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return
	}
	var err error
	switch os.Args[1] {
	case "serve":
		err = serve()
	case "validate":
		if len(os.Args) < 3 {
			fmt.Println(usage)
			os.Exit(2)
		}
		err = validateFile(os.Args[2])
	default:
		fmt.Println(usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("nodeflow failed", "err", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	providers, err := model.BuildProviders(cfg.Providers)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	fetcher := fetch.New(cfg.Fetch, logger)
	toolReg := tools.Default(fetcher, &http.Client{Timeout: cfg.Fetch.Timeout})
	caller := model.NewCaller(providers, cfg.Engine.DefaultModel, toolReg,
		model.WithMaxToolRounds(cfg.Engine.MaxToolRounds),
		model.WithCallerLogger(logger),
	)

	gate := approval.NewGate(stores.Approvals, logger)
	if n := notify.FromConfig(cfg.Notify, logger); n != nil {
		gate.SetNotifier(n)
	}

	eng := engine.New(
		stores.Executions,
		gate,
		nodes.DefaultRegistry(toolReg),
		nodes.Capabilities{Model: caller, Fetcher: fetcher, Logger: logger},
		engine.WithLogger(logger),
		engine.WithConfig(engineConfig(cfg.Engine)),
	)

	runs := services.NewRunManager(10 * time.Minute)
	defer runs.Stop()
	limiter := services.NewConcurrencyLimiter(cfg.Scheduler)
	srv := api.NewServer(services.NewRunner(eng, limiter, runs, logger), logger)
	srv.SetConcurrencyLimiter(limiter)
	srv.SetToolRegistry(toolReg)
	srv.SetAllowedOrigins(cfg.Server.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting nodeflow server", "addr", addr, "store", cfg.Store.Driver, "providers", len(providers))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStores(ctx context.Context, cfg *config.Config) (repository.Stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		database, err := db.New(ctx, cfg.Database)
		if err != nil {
			return repository.Stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return repository.Stores{}, fmt.Errorf("migrate: %w", err)
		}
		return repository.NewPostgres(database), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return repository.Stores{}, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return repository.Stores{}, fmt.Errorf("connect redis: %w", err)
		}
		return repository.NewRedis(client, cfg.Redis.Prefix), nil
	default:
		return repository.NewMemory(), nil
	}
}

func engineConfig(cfg config.EngineConfig) engine.Config {
	out := engine.Config{DefaultTimeout: cfg.DefaultTimeout}
	if len(cfg.KindTimeouts) > 0 {
		out.KindTimeouts = make(map[nodeflow.NodeKind]time.Duration, len(cfg.KindTimeouts))
		for kind, d := range cfg.KindTimeouts {
			out.KindTimeouts[nodeflow.NodeKind(kind)] = d
		}
	}
	return out
}

// validateFile checks a graph file offline. Tool names are checked against
// the built-in tools.
func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var g nodeflow.Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	stores := repository.NewMemory()
	toolReg := tools.Default(nil, nil)
	eng := engine.New(stores.Executions, approval.NewGate(stores.Approvals, nil), nodes.DefaultRegistry(toolReg), nodes.Capabilities{})

	err = eng.Validate(&g)
	var verr *nodeflow.ValidationError
	if errors.As(err, &verr) {
		fmt.Printf("%s: %d problem(s)\n", path, len(verr.Problems))
		for _, p := range verr.Problems {
			fmt.Println("  -", p)
		}
		os.Exit(1)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d nodes, %d edges)\n", path, len(g.Nodes), len(g.Edges))
	return nil
}
