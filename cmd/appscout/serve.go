package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"appscout/internal/command"
	"appscout/internal/config"
	"appscout/internal/explore"
	"appscout/internal/knowledge"
	"appscout/internal/logging"
	"appscout/internal/metric"
	"appscout/internal/planner"
	"appscout/internal/server"
	"appscout/internal/session"
)

var interactive bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device server",
	Long: `Starts the TCP device server, the Prometheus metrics endpoint and
all supporting services. Shuts down cleanly on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&interactive, "interactive", "i", false,
		"read natural language commands from stdin and run them on a connected device")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Initialize(workspace, cfg.LoggingSettings()); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.CloseAll()
	defer logging.CloseAudit()

	registry := metric.NewRegistry()
	metrics := registry.CoreMetrics()

	dbPath := cfg.Knowledge.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	store, err := knowledge.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer store.Close()

	learner, err := knowledge.NewLearner(store)
	if err != nil {
		metrics.RecordKnowledgeLoad("error")
		return fmt.Errorf("load knowledge: %w", err)
	}
	metrics.RecordKnowledgeLoad("success")

	sessions := session.NewManager(session.Config{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTimeout: cfg.SessionIdleTimeout(),
	})
	if err := registry.RegisterCollector("session", "open_sessions",
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "appscout_sessions_open",
			Help: "Number of open sessions",
		}, func() float64 { return float64(sessions.Count()) })); err != nil {
		return fmt.Errorf("register session gauge: %w", err)
	}

	intentPlanner, err := buildPlanner(cfg, learner)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		RequestTimeout:   cfg.RequestTimeout(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
	}, metrics)

	// Device events keep their owning session alive
	srv.OnEvent(func(deviceID, eventType, sessionID string, data json.RawMessage) {
		if sessionID != "" {
			if sess, err := sessions.Get(sessionID); err == nil {
				sess.Touch()
			}
			return
		}
		if sess, err := sessions.ForDevice(deviceID); err == nil {
			sess.Touch()
		}
	})

	patterns := knowledge.NewPatternSet()
	knowledge.SeedDefaultPatterns(patterns)
	executor := command.NewExecutor(srv, sessions, learner, patterns, intentPlanner)

	if cfg.Explore.LearnOnConnect {
		srv.OnConnect(func(deviceID string) {
			startLearning(cfg, srv, sessions, learner, metrics, deviceID)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interactive {
		go runConsole(ctx, executor, srv)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("device server starting",
			zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
		return srv.Start()
	})

	group.Go(func() error {
		sessions.Janitor(ctx, cfg.SessionIdleTimeout())
		return nil
	})

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		group.Go(func() error {
			logger.Info("metrics endpoint starting", zap.String("addr", metricsServer.Address()))
			return metricsServer.Start()
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.Stop()
		if metricsServer != nil {
			_ = metricsServer.Stop()
		}
		sessions.CloseAll()
		if err := learner.FlushAll(); err != nil {
			logger.Warn("flush knowledge on shutdown", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(workspace, config.DefaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// startLearning kicks off a batch exploration of the apps installed on a
// freshly connected device.
func startLearning(cfg *config.Config, srv *server.Server, sessions *session.Manager,
	learner *knowledge.Learner, metrics *metric.Metrics, deviceID string) {
	device, err := srv.Device(deviceID)
	if err != nil {
		return
	}
	sess, err := sessions.Create(deviceID, "batch app learning")
	if err != nil {
		logger.Warn("create learning session", zap.Error(err))
		return
	}

	batch := explore.NewBatch(exploreConfig(cfg), device, learner, metrics, sess,
		func(result explore.BatchResult) {
			logger.Info("batch learning finished",
				zap.String("device", deviceID),
				zap.Int("explored", result.Explored),
				zap.Int("failed", result.Failed),
				zap.Duration("elapsed", result.Elapsed))
		})
	if err := batch.Start(); err != nil {
		logger.Warn("start batch learning", zap.String("device", deviceID), zap.Error(err))
	}
}

func exploreConfig(cfg *config.Config) explore.Config {
	ec := explore.DefaultConfig()
	ec.MaxScreens = cfg.Explore.MaxScreens
	ec.MaxDepth = cfg.Explore.MaxDepth
	ec.MaxLoadWaits = cfg.Explore.MaxLoadWaits
	ec.MinLoadElements = cfg.Explore.MinLoadElements
	ec.SettleDelay = cfg.SettleDelay()
	return ec
}

// runConsole reads natural language commands from stdin and runs each one
// against a connected device. Successive commands share a session so apps
// stay in the state the previous command left them in.
func runConsole(ctx context.Context, executor *command.Executor, srv *server.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("appscout console ready, type a command (or \"quit\")")

	sessionID := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}

		device, err := srv.AnyDevice()
		if err != nil {
			fmt.Println("no device connected")
			continue
		}

		result, err := executor.Execute(ctx, device.ID, line, sessionID)
		if result != nil {
			sessionID = result.SessionID
		}
		switch {
		case err != nil && result != nil && result.Message != "":
			fmt.Println(result.Message)
		case err != nil:
			fmt.Printf("command failed: %v\n", err)
		default:
			fmt.Println(result.Message)
		}
	}
}

func buildPlanner(cfg *config.Config, learner *knowledge.Learner) (planner.Planner, error) {
	switch cfg.Planner.Provider {
	case "gemini":
		p, err := planner.NewGeminiPlanner(cfg.Planner.APIKey, cfg.Planner.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini planner: %w", err)
		}
		return p, nil
	default:
		return planner.NewRulePlanner(learner), nil
	}
}
