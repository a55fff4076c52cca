package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hearthhq/calsync/internal/credentials"
	"github.com/hearthhq/calsync/internal/reconcile"
	"github.com/hearthhq/calsync/internal/remote"
	"github.com/hearthhq/calsync/internal/store"
)

func newPullCmd() *cobra.Command {
	var (
		tenantID  string
		memberID  string
		tokenFile string
		envFile   string
		budget    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Run a one-shot pull for a tenant",
		Long: `Fetch the tenant's remote calendar into an empty local store and print
what a full sync would apply. Useful for verifying credentials and
inspecting remote state without running the service.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("loading env file %s: %w", envFile, err)
			}
			return runPull(cmd, tenantID, memberID, tokenFile, budget)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant (household) ID")
	cmd.Flags().StringVar(&memberID, "member", "", "Member whose credentials back the pull")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "Member token file (default ~/.config/calsync/tokens.json)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	cmd.Flags().DurationVar(&budget, "budget", time.Minute, "Wall-clock budget for the pull")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("member")

	return cmd
}

func runPull(cmd *cobra.Command, tenantID, memberID, tokenFile string, budget time.Duration) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	tokenPath := tokenFile
	if tokenPath == "" {
		var err error
		tokenPath, err = credentials.DefaultTokenPath()
		if err != nil {
			return err
		}
	}
	creds := credentials.NewOAuthProvider(nil, credentials.NewFileTokenStore(tokenPath))

	st := store.NewMemory()
	client := remote.NewGoogleClient(creds)
	rec := reconcile.New(st, client, nil, reconcile.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), budget+10*time.Second)
	defer cancel()

	res, err := rec.Pull(ctx, memberID, tenantID, remote.ListCursor{}, budget)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	events, err := st.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "applied %d, skipped %d remote events\n", res.Applied, res.Skipped)
	for _, ev := range events {
		fmt.Fprintf(out, "  %s  %s  [%s]\n",
			ev.Start.Format(time.RFC3339), ev.Title, ev.ExternalID)
	}
	if res.SyncToken != "" {
		fmt.Fprintf(out, "sync token: %s\n", res.SyncToken)
	}
	return nil
}
