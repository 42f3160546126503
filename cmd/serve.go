package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amalgammas/link/internal/bot"
	"github.com/amalgammas/link/internal/config"
	"github.com/amalgammas/link/internal/logging"
	"github.com/amalgammas/link/internal/metrics"
	"github.com/amalgammas/link/internal/room"
	"github.com/amalgammas/link/internal/server"
	"github.com/amalgammas/link/internal/signaling"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	serveConfigPath string
	serveEnvFile    string
	servePort       int
	serveBaseURL    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the signaling server: room pages, the room API, the websocket relay,
Prometheus metrics and, when TG_BOT_TOKEN is set, the Telegram bot.

Environment:
` + config.Usage(),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(serveEnvFile); err != nil {
			logrus.WithField("file", serveEnvFile).Info("no env file found")
		}

		cfg, err := config.LoadServer(serveConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if serveBaseURL != "" {
			cfg.BaseURL = serveBaseURL
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logging.Init(logLevel, cfg.LogLevel)
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "YAML config file, environment overrides it")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (env PORT)")
	serveCmd.Flags().StringVar(&serveBaseURL, "base-url", "", "public origin used in room links (env LINK_BASE_URL)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Server) error {
	rooms := room.NewRegistry()
	m := metrics.New()
	hub := signaling.NewHub(rooms, m)

	router := server.NewRouter(rooms, hub, m, server.Options{
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		ICEServers:     cfg.ICEServers(),
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":     srv.Addr,
			"base_url": cfg.BaseURL,
		}).Info("signaling server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.RoomTTL > 0 {
		g.Go(func() error {
			rooms.RunSweeper(ctx, cfg.RoomTTL, cfg.SweepInterval, m.RoomsSwept)
			return nil
		})
	}

	if cfg.TelegramToken == "" {
		logrus.Warn("TG_BOT_TOKEN is not set, telegram bot disabled")
	} else if b, err := bot.New(cfg.TelegramToken, &bot.Responder{Rooms: rooms, BaseURL: cfg.BaseURL, Metrics: m}); err != nil {
		logrus.WithError(err).Warn("telegram bot disabled")
	} else {
		g.Go(func() error { return b.Run(ctx) })
	}

	return g.Wait()
}
