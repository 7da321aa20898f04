package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/gridswap/go-station-ops/internal/util"
	"github.com/gridswap/go-station-ops/internal/util/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// New returns the sessions command group: operator tooling for inspecting
// and cleaning up persisted workflow sessions from the terminal.
func New() *cobra.Command {
	return command.NewSubcommandGroup("sessions",
		newList(),
		newShow(),
		newDiscard(),
	)
}

func newStore(cfg config.Server) storage.SessionStore {
	return storage.NewBackendStore(cfg.Backend, &http.Client{Timeout: cfg.Backend.Timeout})
}

func newList() *cobra.Command {
	var workflowType, status, search string
	var page, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted workflow sessions",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			store := newStore(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
			defer cancel()

			result, err := store.List(ctx, storage.Filter{
				Type:   workflowType,
				Status: status,
				Search: search,
				Page:   page,
				Limit:  limit,
			})
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to list sessions")
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REFERENCE\tTYPE\tSTATUS\tSTEP\tCUSTOMER\tAMOUNT\tLAST ACTIVITY")
			for _, sum := range result.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d (%s)\t%s\t%.2f\t%s\n",
					sum.ReferenceID, sum.WorkflowType, sum.Status,
					sum.CurrentStep, sum.CurrentStepName,
					sum.CounterpartyName, sum.TotalAmount,
					util.TimeElapsed(now, sum.UpdatedAt))
			}
			w.Flush()

			fmt.Printf("\nPage %d/%d, %d total\n",
				result.Pagination.Page, result.Pagination.TotalPages, result.Pagination.Total)
		},
	}

	cmd.Flags().StringVar(&workflowType, "type", "", "Filter by workflow type (REGISTRATION, ASSET_SWAP)")
	cmd.Flags().StringVar(&status, "status", "in_progress", "Filter by status (in_progress, completed, expired)")
	cmd.Flags().StringVar(&search, "search", "", "Search by customer name or reference code")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")

	return cmd
}

func newShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <reference-id>",
		Short: "Print the full session document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			store := newStore(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
			defer cancel()

			sess, err := store.Load(ctx, args[0])
			if err != nil {
				log.Fatal().Err(err).Str("referenceId", args[0]).Msg("Failed to load session")
			}

			doc, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to render session document")
			}
			fmt.Println(string(doc))
		},
	}
}

func newDiscard() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <reference-id>",
		Short: "Discard a persisted session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			store := newStore(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
			defer cancel()

			if err := store.Delete(ctx, args[0]); err != nil {
				log.Fatal().Err(err).Str("referenceId", args[0]).Msg("Failed to discard session")
			}
			log.Info().Str("referenceId", args[0]).Msg("Session discarded")
		},
	}
}
