package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	steam "github.com/zergu1ar/steamtrade"
	"github.com/zergu1ar/steamtrade/config"
)

type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tradebot",
		Short:         "Steam trade offer bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newPollCommand(opts))
	cmd.AddCommand(newConfirmationsCommand(opts))
	cmd.AddCommand(newInventoryCommand(opts))
	cmd.AddCommand(newSessionCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// login loads the config and returns a logged in client with a Web API key.
func login(ctx context.Context, opts *rootOptions) (*config.Config, *steam.Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	client, err := steam.NewClient(nil, "", cfg.Steam.Language, cfg.Credentials())
	if err != nil {
		return nil, nil, err
	}
	if err := client.Login(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	slog.Info("logged in", "steamid", client.GetSteamId())

	key := cfg.Steam.APIKey
	if key == "" {
		if key, err = client.GetWebAPIKey(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("web api key: %w", err)
		}
	}
	client.SetAPIKey(key)
	return cfg, client, nil
}

// ignoreCanceled treats a shutdown by signal as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
