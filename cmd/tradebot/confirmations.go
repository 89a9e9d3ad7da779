package main

import (
	"fmt"

	"github.com/spf13/cobra"

	steam "github.com/zergu1ar/steamtrade"
)

func newConfirmationsCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		deny, answer bool
		offerID      uint64
	)

	cmd := &cobra.Command{
		Use:   "confirmations",
		Short: "List mobile confirmations and optionally answer them",
		Long: `List pending mobile confirmations.

With --accept every listed confirmation is allowed, with --deny every one is
denied. Without either flag nothing is answered. --offer allows only the
confirmation created for that trade offer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deny && answer {
				return fmt.Errorf("--accept and --deny are exclusive")
			}
			if offerID != 0 && (deny || answer) {
				return fmt.Errorf("--offer is exclusive with --accept and --deny")
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			_, client, err := login(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			if offerID != 0 {
				if err := client.AcceptConfirmationForObject(ctx, offerID); err != nil {
					return fmt.Errorf("offer %d: %w", offerID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "offer=%d\t%s\n", offerID, steam.AnswerAllow)
				return nil
			}

			confirmations, err := client.GetConfirmations(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, c := range confirmations {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\toffer=%d\n", c.ID, c.Title, c.Receiving, c.Since, c.OfferID)
				if !deny && !answer {
					continue
				}
				reply := steam.AnswerAllow
				if deny {
					reply = steam.AnswerDeny
				}
				if err := client.AnswerConfirmation(ctx, c, reply); err != nil {
					return fmt.Errorf("confirmation %d: %w", c.ID, err)
				}
				fmt.Fprintf(out, "%d\t%s\n", c.ID, reply)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&answer, "accept", false, "allow every confirmation")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny every confirmation")
	cmd.Flags().Uint64Var(&offerID, "offer", 0, "allow the confirmation of this trade offer only")
	return cmd
}
