package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	steam "github.com/zergu1ar/steamtrade"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

func newSessionCommand(rootOpts *rootOptions) *cobra.Command {
	var greeting string

	cmd := &cobra.Command{
		Use:   "session <steamid>",
		Short: "Attach to a live trade with a partner and log its events",
		Long: `Attach to a live trade already started with the partner and log every
event until the trade ends. Interrupting cancels the trade.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partner, err := steam.ParseSteamID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			cfg, client, err := login(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := cfg.ManagerOptions()
			opts.Inventory = client
			opts.Sessions = client
			m, err := tradeoffer.NewManager(client, opts)
			if err != nil {
				return err
			}

			s, err := m.OpenTradeSession(ctx, partner, sessionLogHandlers(slog.Default()))
			if err != nil {
				return err
			}
			defer s.Close()

			if greeting != "" {
				if err := s.Chat(ctx, greeting); err != nil {
					return err
				}
			}

			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
			}

			cancelCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			return s.Cancel(cancelCtx)
		},
	}

	cmd.Flags().StringVar(&greeting, "greet", "", "chat message sent after attaching")
	return cmd
}

func sessionLogHandlers(log *slog.Logger) tradeoffer.SessionHandlers {
	return tradeoffer.SessionHandlers{
		ItemAdded:   func(item tradeoffer.Item) { log.Info("partner added item", "item", item.Key(), "name", item.Name) },
		ItemRemoved: func(item tradeoffer.Item) { log.Info("partner removed item", "item", item.Key(), "name", item.Name) },
		Ready:       func() { log.Info("partner ready") },
		Unready:     func() { log.Info("partner unready") },
		Confirm:     func() { log.Info("partner confirmed") },
		Chat:        func(text string) { log.Info("chat", "text", text) },
		End: func(status tradeoffer.SessionStatus, tradeID uint64) {
			log.Info("trade ended", "status", status, "trade", tradeID)
		},
		Error: func(err error) { log.Error("trade failed", "err", err) },
	}
}
