package main

import (
	"github.com/gridswap/go-station-ops/cmd/server"
	"github.com/gridswap/go-station-ops/cmd/sessions"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "station-ops",
		Short: "Battery station workflow session service",
		Run: func(cmd *cobra.Command, args []string) {
			server.Run()
		},
	}

	rootCmd.AddCommand(
		server.New(),
		sessions.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}
