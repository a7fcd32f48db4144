package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/model"
)

func newAuthCommand(opts *options) *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Manage mailbox credentials",
	}

	auth.AddCommand(
		&cobra.Command{
			Use:   "login",
			Short: "Authorize mailbox access in a browser and save the grant",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := opts.load()
				if err != nil {
					return err
				}
				defer func() { _ = log.Sync() }()

				grants, err := credential.OpenGrantStore(cfg.Auth)
				if err != nil {
					return err
				}

				ctx, stop := signalContext(cmd.Context())
				defer stop()

				s := credential.NewInteractiveStrategy(cfg.Auth.ClientSecretsFile, grants, true, log.Named("auth"))
				s.Out = cmd.OutOrStdout()
				if _, err := s.Obtain(ctx); err != nil {
					if errors.Is(err, credential.ErrNotApplicable) {
						return fmt.Errorf("client secrets file %s not found", cfg.Auth.ClientSecretsFile)
					}
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Grant saved to %s\n", grants.Describe())
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which credentials are configured",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := opts.load()
				if err != nil {
					return err
				}
				defer func() { _ = log.Sync() }()

				grants, err := credential.OpenGrantStore(cfg.Auth)
				if err != nil {
					return err
				}
				return printAuthStatus(cmd.OutOrStdout(), cfg, grants, time.Now())
			},
		},
		&cobra.Command{
			Use:   "set-secret <key>",
			Short: "Store a secret read from stdin in the OS keyring",
			Long: "Reads a single line from stdin and stores it in the OS keyring under key, " +
				"for example `echo $PASSWORD | mailwatch auth set-secret " + credential.IMAPPasswordKey + "`.",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}

				ring, err := credential.OpenKeyring()
				if err != nil {
					return err
				}
				if err := ring.Set(args[0], value); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %q\n", args[0])
				return nil
			},
		},
	)

	return auth
}

func printAuthStatus(w io.Writer, cfg *model.AppConfig, grants credential.GrantStore, now time.Time) error {
	fmt.Fprintln(w, "Environment credentials:")
	for _, field := range credential.Diagnostics(cfg.Google) {
		fmt.Fprintf(w, "  %s\n", field)
	}

	fmt.Fprintf(w, "Grant store: %s\n", grants.Describe())
	grant, err := grants.Load()
	switch {
	case errors.Is(err, credential.ErrNoGrant):
		fmt.Fprintln(w, "  grant: absent")
	case err != nil:
		fmt.Fprintf(w, "  grant: unreadable (%v)\n", err)
	default:
		fmt.Fprintln(w, "  grant: present")
		fmt.Fprintf(w, "  refresh token: %s\n", presence(grant.RefreshToken != ""))
		if !grant.Expiry.IsZero() {
			state := "valid"
			if !grant.Expiry.After(now) {
				state = "expired"
			}
			fmt.Fprintf(w, "  access token: %s until %s\n", state, grant.Expiry.Format(time.RFC3339))
		}
	}

	fmt.Fprintf(w, "Interactive authorization: %t\n", cfg.Auth.Interactive)
	return nil
}

func presence(ok bool) string {
	if ok {
		return "SET"
	}
	return "NOT SET"
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret on stdin")
	}
	return line, nil
}
