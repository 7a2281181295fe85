package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pagelock/riskd/internal/audit"
	"github.com/pagelock/riskd/internal/bypass"
	"github.com/pagelock/riskd/internal/engine"
	"github.com/pagelock/riskd/internal/escalate"
	"github.com/pagelock/riskd/internal/fingerprint"
	"github.com/pagelock/riskd/internal/notify"
	"github.com/pagelock/riskd/internal/policy"
	"github.com/pagelock/riskd/internal/score"
	"github.com/pagelock/riskd/internal/server"
	"github.com/pagelock/riskd/internal/violation"
)

func newServeCmd() *cobra.Command {
	var port int
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the riskd scoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.Load(cfgFile)
			if err != nil {
				// Fall back to defaults if no policy file
				p = policy.Defaults()
			}

			if port != 0 {
				p.Server.Port = port
			}
			if bind != "" {
				p.Server.Bind = bind
			}

			if err := p.Validate(); err != nil {
				return err
			}

			logger := newLogger(p.Server.LogLevel)

			taxonomy, err := violation.NewTable(p.SeverityOverrides(), p.Scoring.DefaultSeverity)
			if err != nil {
				return fmt.Errorf("building severity table: %w", err)
			}

			checker, closeChecker := newChecker(p)
			defer closeChecker()
			gate := bypass.NewGate(checker, p.BypassTimeout(), logger)

			sink, err := newSink(cmd.Context(), p, logger)
			if err != nil {
				return err
			}

			ladder, err := escalate.NewLadder(escalate.Config{
				WarnAt:    p.Escalation.WarnAt,
				DegradeAt: p.Escalation.DegradeAt,
				SuspendAt: p.Escalation.SuspendAt,
				BlockAt:   p.Escalation.BlockAt,
				Cooldown:  p.Cooldown(),
			})
			if err != nil {
				return err
			}

			notifier := notify.NewWebhookNotifier(p.Webhooks, logger)
			dispatcher := escalate.NewAsyncDispatcher(notifier, 256, logger)
			defer dispatcher.Close()

			eng := engine.New(engine.Options{
				Taxonomy: taxonomy,
				Registry: fingerprint.NewRegistry(),
				Gate:     gate,
				Ladder:   ladder,
				Scoring: score.Config{
					DecayRate:              p.Scoring.DecayRate,
					MaxScore:               p.Scoring.MaxScore,
					UnverifiedBonusPercent: p.Scoring.UnverifiedBonusPercent,
					IdleTimeout:            p.IdleTimeout(),
					SweepInterval:          p.SweepInterval(),
				},
				Dispatcher:     dispatcher,
				Sink:           sink,
				Logger:         logger,
				ProbeInterval:  time.Duration(p.Probes.IntervalS) * time.Second,
				ProbesDisabled: p.Probes.Disabled,
			})
			defer func() { _ = eng.Close() }()

			if p.Tracing.Enabled {
				shutdownTracing, err := setupTracing()
				if err != nil {
					return fmt.Errorf("setting up tracing: %w", err)
				}
				defer shutdownTracing()
			}

			srv := server.New(p.Server, eng, p.Tracing.Enabled, logger)

			printBanner(p)

			// Graceful shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go eng.Run(ctx)

			if reloader, err := policy.NewReloader(cfgFile, eng.ApplyPolicy, logger); err == nil {
				go func() {
					if err := reloader.Run(ctx); err != nil {
						logger.Warn("policy watcher stopped", "error", err)
					}
				}()
			} else {
				logger.Warn("policy hot reload unavailable", "error", err)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "address to bind (default: 127.0.0.1)")
	return cmd
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newChecker builds the bypass backend. The returned close func is a no-op
// for backends without connections.
func newChecker(p *policy.Policy) (bypass.Checker, func()) {
	switch p.Bypass.Backend {
	case "redis":
		c := bypass.NewRedisChecker(p.Bypass.RedisAddr, p.Bypass.RedisPrefix, p.Bypass.ExemptRoles)
		return c, func() { _ = c.Close() }
	case "http":
		return bypass.NewHTTPChecker(p.Bypass.RoleURL, p.Bypass.ExemptRoles), func() {}
	default:
		return bypass.None{}, func() {}
	}
}

func newSink(ctx context.Context, p *policy.Policy, logger *slog.Logger) (audit.Sink, error) {
	switch p.Audit.Backend {
	case "postgres":
		s, err := audit.NewPostgresStore(ctx, p.Audit.PostgresURL, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres violation log: %w", err)
		}
		return s, nil
	default:
		path := p.Audit.DBPath
		if path == "" {
			path = "riskd.db"
		}
		s, err := audit.NewStore(path, logger, p.Audit.RetentionDays)
		if err != nil {
			return nil, fmt.Errorf("opening violation log: %w", err)
		}
		return s, nil
	}
}

func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

func printBanner(p *policy.Policy) {
	bindAddr := p.Server.Bind
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}

	fmt.Println()
	fmt.Println("  riskd")
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Ingest:    http://%s:%d/v1/events\n", bindAddr, p.Server.Port)
	fmt.Printf("  Sessions:  http://%s:%d/v1/sessions\n", bindAddr, p.Server.Port)
	fmt.Printf("  Health:    http://%s:%d/health\n", bindAddr, p.Server.Port)
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Thresholds: warn %d / degrade %d / suspend %d / block %d\n",
		p.Escalation.WarnAt, p.Escalation.DegradeAt, p.Escalation.SuspendAt, p.Escalation.BlockAt)
	fmt.Printf("  Decay: %d pt/s  |  Max score: %d  |  Bypass: %s\n",
		p.Scoring.DecayRate, p.Scoring.MaxScore, p.Bypass.Backend)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()
}
