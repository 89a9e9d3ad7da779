package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zergu1ar/steamtrade/config"
	"github.com/zergu1ar/steamtrade/notify"
	"github.com/zergu1ar/steamtrade/store"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

func newPollCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Poll trade offers and log every change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return ignoreCanceled(runPoll(ctx, rootOpts))
		},
	}
}

func runPoll(ctx context.Context, rootOpts *rootOptions) error {
	cfg, client, err := login(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := cfg.ManagerOptions()
	opts.Inventory = client
	opts.Sessions = client
	opts.Handlers = logHandlers(slog.Default())

	if opts.AssetCache, err = tradeoffer.NewAssetCache(cfg.Manager.AssetCacheSize); err != nil {
		return err
	}
	if cfg.Store.Kind != config.StoreNone {
		st, closeStore, err := store.Open(ctx, cfg.StoreKind(), cfg.Store.Target)
		if err != nil {
			return err
		}
		defer closeStore()
		opts.Store = st
	}

	m, err := tradeoffer.NewManager(client, opts)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(ctx) })
	if cfg.Notify.URL != "" {
		header := http.Header{}
		for k, v := range cfg.Notify.Header {
			header.Set(k, v)
		}
		l := &notify.Listener{URL: cfg.Notify.URL, Header: header}
		g.Go(func() error {
			return l.Run(ctx, func(h notify.Hint) {
				slog.Debug("hint", "type", h.Type, "count", h.Count)
				m.DoPoll()
			})
		})
	}
	return g.Wait()
}

func logHandlers(log *slog.Logger) tradeoffer.Handlers {
	return tradeoffer.Handlers{
		NewOffer: func(o *tradeoffer.Offer) {
			log.Info("new offer", "offer", o.ID, "partner", o.Partner, "give", len(o.ItemsToGive), "receive", len(o.ItemsToReceive))
		},
		SentOfferChanged: func(o *tradeoffer.Offer, prev tradeoffer.OfferState) {
			log.Info("sent offer changed", "offer", o.ID, "from", prev, "to", o.State)
		},
		ReceivedOfferChanged: func(o *tradeoffer.Offer, prev tradeoffer.OfferState) {
			log.Info("received offer changed", "offer", o.ID, "from", prev, "to", o.State)
		},
		UnknownOfferSent: func(o *tradeoffer.Offer) {
			log.Info("offer sent elsewhere", "offer", o.ID, "state", o.State)
		},
		SentOfferCanceled: func(o *tradeoffer.Offer, reason string) {
			log.Info("sent offer canceled", "offer", o.ID, "reason", reason)
		},
		SentPendingOfferCanceled: func(o *tradeoffer.Offer) {
			log.Info("unconfirmed offer canceled", "offer", o.ID)
		},
		RealTimeTradeConfirmationRequired: func(o *tradeoffer.Offer) {
			log.Info("trade needs confirmation", "offer", o.ID)
		},
		RealTimeTradeCompleted: func(o *tradeoffer.Offer) {
			log.Info("trade completed", "offer", o.ID)
		},
		PollFailure: func(err error) {
			log.Warn("poll failed", "err", err)
		},
		PollSuccess: func() {
			log.Debug("poll ok")
		},
	}
}
