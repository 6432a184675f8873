package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"buzzmaster-console/internal/backend"
	"buzzmaster-console/internal/config"
	"buzzmaster-console/internal/domain"
	"buzzmaster-console/internal/infra/memory"
	redisstore "buzzmaster-console/internal/infra/redis"
	"buzzmaster-console/internal/layout"
	"buzzmaster-console/internal/realtime"
	"buzzmaster-console/internal/registry"
	"buzzmaster-console/internal/session"
	transport "buzzmaster-console/internal/transport/http"
)

// NewConsoleCmd builds the CLI subcommand that runs the console.
func NewConsoleCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game-master console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), *configPath, *port)
		},
	}
}

func runConsole(ctx context.Context, configPath, portFlag string) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8081"
	}

	backendURL := cfg.Backend.URL
	if backendURL == "" {
		backendURL = "http://localhost:3000"
	}
	retryAttempts := cfg.Backend.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	client := backend.New(
		backendURL,
		config.TTLDuration(cfg.Backend.Timeout, 10*time.Second),
		backend.WithRetry(retryAttempts, config.TTLDuration(cfg.Backend.RetryDelay, time.Second)),
	)
	if err := client.Status(ctx); err != nil {
		logger.Warn().Err(err).Str("url", backendURL).Msg("game backend not reachable yet")
	}
	bank := backend.NewQuestionCache(client, config.TTLDuration(cfg.Backend.QuestionTTL, 10*time.Minute))

	var positions layout.PositionStore = memory.NewPositionStore()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		positions = redisstore.NewPositionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
	}
	layoutMgr := layout.NewManager(ctx, cfg.Geometry(), positions)

	roster := registry.New()
	channel := buildChannel(cfg, logger)

	defaults := domain.GameSettings{
		MCQDuration:             cfg.Game.MCQDuration,
		BuzzerDuration:          cfg.Game.BuzzerDuration,
		ShowCorrectAnswer:       cfg.Game.ShowCorrectAnswer,
		ShowIntermediateRanking: cfg.Game.ShowIntermediateRanking,
	}
	if defaults.MCQDuration <= 0 {
		defaults.MCQDuration = 30000
	}
	if defaults.BuzzerDuration <= 0 {
		defaults.BuzzerDuration = 10000
	}

	controller := session.NewController(client, channel, roster, clockwork.NewRealClock(), defaults)

	if err := channel.Connect(ctx); err != nil {
		return err
	}
	defer channel.Close()
	if err := channel.Send(realtime.TypeRequestBuzzerList, struct{}{}); err != nil {
		logger.Warn().Err(err).Msg("initial roster request failed")
	}

	wsHandler := transport.NewWSHandler(controller, roster, layoutMgr, channel, bank, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		controller.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		logger.Info().Str("port", finalPort).Msg("presenter console listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down console")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildChannel(cfg config.Config, logger zerolog.Logger) realtime.Channel {
	connectTimeout := config.TTLDuration(cfg.Channel.ConnectTimeout, 10*time.Second)
	reconnectWait := config.TTLDuration(cfg.Channel.ReconnectWait, 2*time.Second)

	if cfg.Channel.Driver == "nats" {
		subjectIn := cfg.Channel.SubjectIn
		if subjectIn == "" {
			subjectIn = "buzzer.events"
		}
		subjectOut := cfg.Channel.SubjectOut
		if subjectOut == "" {
			subjectOut = "buzzer.commands"
		}
		return realtime.NewNATSChannel(cfg.Channel.URL, subjectIn, subjectOut, realtime.NATSOptions{
			ConnectTimeout: connectTimeout,
			ReconnectWait:  reconnectWait,
			MaxReconnects:  cfg.Channel.MaxReconnects,
		}, logger)
	}

	url := cfg.Channel.URL
	if url == "" {
		url = "ws://localhost:3000/ws"
	}
	return realtime.NewWSChannel(url, realtime.WSOptions{
		ConnectTimeout: connectTimeout,
		ReconnectWait:  reconnectWait,
		MaxReconnects:  cfg.Channel.MaxReconnects,
	}, logger)
}
