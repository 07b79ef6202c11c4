package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/soyeahso/voicebridge/internal/accesstoken"
	"github.com/soyeahso/voicebridge/internal/animation"
	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/demo"
	"github.com/soyeahso/voicebridge/internal/elevenlabs"
	"github.com/soyeahso/voicebridge/internal/gateway"
	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/llm"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/nlq"
	"github.com/soyeahso/voicebridge/internal/plugin"
	"github.com/soyeahso/voicebridge/internal/relay"
	"github.com/soyeahso/voicebridge/internal/store"
	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the voicebridge gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			runLog, logCloser, err := logging.Open(logging.Options{
				Level: level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer logCloser.Close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hookMgr := hooks.NewManager(runLog)
			opts := []gateway.ServerOption{gateway.WithHooks(hookMgr)}
			plugins := plugin.NewRegistry(hookMgr, runLog)

			if cfg.Store.Enabled {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = paths.StoreDB()
				}
				db, err := store.Open(dbPath, runLog)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()

				sessions := store.NewSessionStore(db)
				if err := plugins.Register(store.NewRecorder(sessions, runLog)); err != nil {
					return err
				}
				opts = append(opts, gateway.WithStore(sessions))
				runLog.Info().Str("path", dbPath).Msg("recording sessions")
			}

			provider := elevenlabs.New(cfg.ElevenLabs.APIKey, runLog, elevenlabs.WithBaseURL(cfg.ElevenLabs.BaseURL))
			if cfg.ElevenLabs.APIKey == "" {
				runLog.Warn().Msg("ELEVENLABS_API_KEY is not set, voice sessions will be rejected")
			}
			opts = append(opts, gateway.WithFeedback(provider))

			agent, closeNLQ, err := openNLQ(ctx, cfg.NLQ, runLog)
			if err != nil {
				runLog.Warn().Err(err).Msg("natural language queries disabled")
			} else {
				defer closeNLQ.Close()
				opts = append(opts, gateway.WithNLQ(agent))
			}

			landing, err := landingRouter(cfg.Demos.Landing, runLog)
			if err != nil {
				return err
			}
			opts = append(opts,
				gateway.WithRouter(demo.Landing, landing),
				gateway.WithAccessTokens(accesstoken.New(gateway.LandingTokenScope, cfg.Demos.Landing.AccessTokenExpiry(), runLog)),
			)

			if err := plugins.InitAll(ctx); err != nil {
				return err
			}
			defer plugins.CloseAll()
			// Async hook handlers may still be writing to the store.
			defer hookMgr.Wait()

			proxy := relay.NewProxy(provider, runLog,
				relay.WithHooks(hookMgr),
				relay.WithLimits(relay.Limits{
					ReadLimit:       cfg.Relay.ReadLimitBytes,
					WriteTimeout:    cfg.Relay.WriteTimeout(),
					TeardownTimeout: cfg.Relay.TeardownTimeout(),
				}),
			)

			srv := gateway.New(cfg, proxy, runLog, opts...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// openNLQ builds the text-to-SQL agent. The returned closer releases the
// analytics database.
func openNLQ(ctx context.Context, cfg config.NLQConfig, log *logging.Logger) (*nlq.Agent, io.Closer, error) {
	client, err := llm.NewFromConfig(cfg.LLM, log)
	if err != nil {
		return nil, nil, err
	}

	schema := nlq.DemoSchema
	if cfg.SchemaFile != "" {
		data, err := os.ReadFile(cfg.SchemaFile)
		if err != nil {
			return nil, nil, fmt.Errorf("reading nlq schema: %w", err)
		}
		schema = string(data)
	}

	exec, err := nlq.OpenExecutor(ctx, cfg, paths.DemoDB(), log)
	if err != nil {
		return nil, nil, err
	}

	translator := nlq.NewTranslator(client, schema, log)
	return nlq.NewAgent(translator, exec, nil, cfg.MaxRetries, log), exec, nil
}

// landingRouter builds the landing assistant with the built-in animation
// triggers or those of the configured file.
func landingRouter(cfg config.LandingConfig, log *logging.Logger) (*relay.Router, error) {
	triggers := animation.DefaultTriggers
	if cfg.TriggersFile != "" {
		loaded, err := animation.LoadFile(cfg.TriggersFile)
		if err != nil {
			return nil, err
		}
		triggers = loaded
	}
	detector, err := animation.NewDetector(triggers)
	if err != nil {
		return nil, fmt.Errorf("animation triggers: %w", err)
	}

	return demo.LandingRouter(demo.LandingOptions{
		ContactFormTool: cfg.ContactFormTool,
		Detector:        detector,
	}, log), nil
}
