package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the account's trade token and trade URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			_, client, err := login(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			token, err := client.GetMyTradeToken(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(out, "https://steamcommunity.com/tradeoffer/new/?partner=%d&token=%s\n", client.GetSteamId().GetAccountID(), token)
			return nil
		},
	}
}
