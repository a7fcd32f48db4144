package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailwatch/internal/store"
)

func newStateCommand(opts *options) *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Inspect the record of delivered messages",
	}

	state.AddCommand(
		&cobra.Command{
			Use:   "count",
			Short: "Print how many messages have been delivered",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}

				s, err := store.Open(cmd.Context(), cfg.State)
				if err != nil {
					return err
				}
				defer s.Close()

				n, err := s.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <message-id>",
			Short: "Show when a message was first delivered",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}

				s, err := store.Open(cmd.Context(), cfg.State)
				if err != nil {
					return err
				}
				defer s.Close()

				rec, err := s.Get(cmd.Context(), args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("message %s has not been delivered", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s first delivered %s\n", rec.ID, rec.FirstSeen.UTC().Format(time.RFC3339))
				return nil
			},
		},
	)

	return state
}
