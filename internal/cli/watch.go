package cli

import (
	"context"
	"encoding/json"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/modelstore/pkg/modelstore"
)

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print change events as JSON lines until interrupted",
		Long: `Consume the configured change feed and print one JSON object per event.

The change feed must be enabled (changefeed.enabled or
MODELSTORE_CHANGEFEED_ENABLED=true) and of a shared type such as redis or
kafka for events written by other processes to be seen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			handler := modelstore.HandlerFunc(func(_ context.Context, event *modelstore.ChangeEvent) error {
				mu.Lock()
				defer mu.Unlock()
				return enc.Encode(event)
			})
			if err := c.Start(ctx, handler); err != nil {
				return err
			}
			<-ctx.Done()
			return c.Stop()
		},
	}
}
