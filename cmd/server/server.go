package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridswap/go-station-ops/internal/api"
	"github.com/gridswap/go-station-ops/internal/api/router"
	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Starts the station workflow server",
		Run: func(cmd *cobra.Command, args []string) {
			Run()
		},
	}
}

func Run() {
	cfg := config.DefaultServiceConfigFromEnv()

	zerolog.SetGlobalLevel(cfg.Logger.Level)
	if cfg.Logger.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = "15:04:05"
		}))
	}

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	router.Init(s)

	go func() {
		if err := s.Start(); err != nil {
			log.Warn().Err(err).Msg("Server stopped")
		}
	}()

	log.Info().Str("address", cfg.Echo.ListenAddress).Str("stationId", cfg.Station.StationID).
		Msg("Station workflow server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if errs := s.Shutdown(ctx); len(errs) > 0 {
		log.Fatal().Errs("errors", errs).Msg("Failed to gracefully shut down server")
	}
}
