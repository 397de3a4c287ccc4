package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/c360studio/modernizer/agents"
	"github.com/c360studio/modernizer/config"
	"github.com/c360studio/modernizer/jobs"
	"github.com/c360studio/modernizer/llm"
	"github.com/c360studio/modernizer/metrics"
	"github.com/c360studio/modernizer/migration"
	"github.com/c360studio/modernizer/registry"
	"github.com/c360studio/modernizer/report"
	"github.com/c360studio/modernizer/sandbox"
	"github.com/c360studio/modernizer/server"
	"github.com/c360studio/modernizer/tools"
	"github.com/c360studio/modernizer/workflow"
)

// app bundles the long-lived collaborators behind both the serve and
// migrate commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry   *jobs.Registry
	bus        *jobs.Bus
	pool       *jobs.Pool
	host       *tools.Host
	driver     *sandbox.Driver
	probe      *registry.Probe
	model      *llm.Client
	accounting *llm.Accounting
	metrics    *metrics.Recorder
	nats       *nats.Conn
}

func buildLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Merge(fileCfg)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: jobs.NewRegistry(),
		metrics:  metrics.NewRecorder(),
	}

	busOpts := []jobs.BusOption{jobs.WithBusLogger(logger)}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(appName))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		a.nats = nc
		busOpts = append(busOpts, jobs.WithMirror(nc))
		logger.Info("event mirroring enabled", "nats_url", cfg.NATS.URL)
	}
	a.bus = jobs.NewBus(busOpts...)
	a.pool = jobs.NewPool(cfg.Workflow.WorkerPoolSize, logger)

	hostOpts := []tools.HostOption{tools.WithHostLogger(logger)}
	if cfg.CodeHostToken != "" {
		hostOpts = append(hostOpts, tools.WithCodeHostToken(cfg.CodeHostToken))
	}
	a.host = tools.NewHost(cfg.Tools, hostOpts...)

	driver, err := sandbox.NewDriver(
		sandbox.WithCleanup(cfg.Sandbox.CleanupEnabled()),
		sandbox.WithTimeout(cfg.SandboxTimeout()),
		sandbox.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create sandbox driver: %w", err)
	}
	a.driver = driver

	a.probe = registry.NewProbe(registry.WithLogger(logger))
	a.accounting = llm.NewAccounting()
	a.model = llm.NewClient(cfg.ModelRegistry(),
		llm.WithLogger(logger),
		llm.WithAccounting(a.accounting))

	return a, nil
}

// Close tears the app down in reverse construction order.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.host != nil {
		a.host.Shutdown()
	}
	if a.nats != nil {
		a.nats.Close()
	}
}

// meteredCompleter wraps the model gateway and counts every call and
// its spend per agent.
type meteredCompleter struct {
	inner agents.Completer
	rec   *metrics.Recorder
}

func (m meteredCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := m.inner.Complete(ctx, req)
	cost := 0.0
	if resp != nil {
		cost = resp.CostUSD
	}
	m.rec.ModelCall(req.CallerTag, err == nil, cost)
	return resp, err
}

// meteredValidator wraps the validator and records each sandbox run's
// outcome label.
type meteredValidator struct {
	inner workflow.Validator
	rec   *metrics.Recorder
}

func (m meteredValidator) Run(ctx context.Context, projectPath string, kind migration.ProjectKind, plan *migration.Plan) (*agents.ValidationResult, agents.Spend, error) {
	res, spend, err := m.inner.Run(ctx, projectPath, kind, plan)
	m.rec.SandboxRun(sandboxOutcome(res, err))
	return res, spend, err
}

func sandboxOutcome(res *agents.ValidationResult, err error) string {
	switch {
	case err == nil && res.Outcome.Success():
		return "success"
	case err == nil:
		return "failure"
	case migration.KindOf(err) == migration.KindSandboxTimeout:
		return "timeout"
	case migration.KindOf(err) == migration.KindSandboxUnavailable:
		return "unavailable"
	default:
		return "failure"
	}
}

// Job builds the pool task for one migration. Agents are constructed
// per job so their progress events carry the job's ID and their
// code-host calls carry the job's token.
func (a *app) Job(st *migration.State) func(ctx context.Context) {
	id := st.ID
	emit := agents.Emitter(func(typ migration.EventType, agent, message string, payload map[string]any) {
		ev := migration.NewEvent(typ, id)
		ev.Agent = agent
		ev.Message = message
		ev.Payload = payload
		a.bus.Publish(ev)
	})
	model := meteredCompleter{inner: a.model, rec: a.metrics}
	caps := agents.Caps{Model: model, Logger: a.logger, Emit: emit}

	engine := workflow.NewEngine(a.registry, a.bus,
		agents.NewPlanner(caps, a.probe),
		meteredValidator{inner: agents.NewValidator(caps, a.driver), rec: a.metrics},
		agents.NewAnalyzer(caps),
		agents.NewDeployer(caps, a.host.ForJob(st.CodeHostToken)),
		a.logger)
	return engine.Job(st)
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the migration service (HTTP + WebSocket)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(*logLevel)
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(server.Options{
				Addr:                cfg.Server.Addr,
				Registry:            a.registry,
				Bus:                 a.bus,
				Pool:                a.pool,
				Runner:              a,
				Metrics:             a.metrics,
				Logger:              logger,
				DockerPing:          a.driver.Ping,
				ProvidersConfigured: cfg.ProvidersConfigured(),
				DefaultRetries:      cfg.Workflow.MaxRetries,
				CodeHostToken:       cfg.CodeHostToken,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func migrateCmd(configPath, logLevel *string) *cobra.Command {
	var (
		kindFlag     string
		retriesFlag  int
		branchFlag   string
		reportFormat string
	)

	cmd := &cobra.Command{
		Use:   "migrate <project-path>",
		Short: "Run one migration to completion and print its report",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{msg: "exactly one project path is required"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(*logLevel)

			projectPath, err := filepath.Abs(args[0])
			if err != nil {
				return usageError{msg: "resolve project path: " + err.Error()}
			}
			if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
				return usageError{msg: "not a directory: " + projectPath}
			}
			kind := migration.ParseProjectKind(kindFlag)
			if kind == "" {
				return usageError{msg: fmt.Sprintf("unsupported kind %q (want nodejs or python)", kindFlag)}
			}
			if retriesFlag < 0 {
				return usageError{msg: "retries must not be negative"}
			}
			if _, err := report.ParseType(reportFormat); err != nil {
				return usageError{msg: err.Error()}
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retries") {
				cfg.Workflow.MaxRetries = retriesFlag
			}

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st := migration.NewState(uuid.NewString(), projectPath, kind, branchFlag, cfg.Workflow.MaxRetries)
			st.CodeHostToken = cfg.CodeHostToken
			a.registry.Put(st)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.Job(st)(ctx)

			final, ok := a.registry.Get(st.ID)
			if !ok {
				return fmt.Errorf("migration record lost")
			}

			typ, _ := report.ParseType(reportFormat)
			out, err := report.Render(final, typ)
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if final.Status != migration.StatusDeployed {
				return fmt.Errorf("migration finished in status %s: %s",
					final.Status, strings.Join(final.Errors, "; "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "Project kind (nodejs or python)")
	cmd.Flags().IntVar(&retriesFlag, "retries", 3, "Retry budget for failed validations")
	cmd.Flags().StringVar(&branchFlag, "branch", "main", "Source branch the upgrade branch is cut from")
	cmd.Flags().StringVar(&reportFormat, "report", "markdown", "Report format printed on completion (json, markdown, html)")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}
