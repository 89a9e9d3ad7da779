package tradeoffer

import (
	"context"
	"time"
)

// pollCycle fetches the offer lists and reconciles them into the poll data.
// Handlers fire outside m.mu, in the order the transitions were observed.
func (m *Manager) pollCycle(ctx context.Context) error {
	m.mu.Lock()
	before := m.pollData.Clone()
	m.mu.Unlock()

	now := m.now()
	filter := FilterActiveOnly
	var cutoff time.Time
	if m.lastFullPoll.IsZero() || now.Sub(m.lastFullPoll) >= fullPollInterval {
		filter = FilterAll
		cutoff = time.Unix(1, 0)
		m.lastFullPoll = now
	} else if before.OffersSince > 0 {
		cutoff = time.Unix(before.OffersSince, 0).Add(-pollBuffer)
	}

	m.log.Debug("polling offers", "filter", filter, "cutoff", cutoff.Unix())
	sent, received, err := m.GetOffers(ctx, filter, cutoff)
	if err != nil {
		return err
	}

	var (
		events   []func()
		deferred bool
		latest   int64
	)
	seen := func(o *Offer) {
		if u := o.Updated.Unix(); u > latest {
			latest = u
		}
	}

	m.mu.Lock()
	pd := m.pollData
	for _, o := range sent {
		seen(o)
		glitched := o.IsGlitched()
		if glitched {
			// a glitched offer is fetched again on the next cycle
			deferred = true
		}
		prev, known := pd.Sent[o.ID]

		switch {
		case !known:
			if glitched || m.pendingSends.Load() > 0 {
				m.log.Debug("deferring unknown sent offer", "offer", o.ID, "glitched", glitched)
				deferred = true
				continue
			}
			if o.FromRealTimeTrade {
				switch {
				case needsRealTimeConfirmation(o):
					events = append(events, func() { m.handlers.realTimeConfirmationRequired(o) })
				case o.State == StateAccepted:
					events = append(events, func() { m.handlers.realTimeCompleted(o) })
				}
			}
			events = append(events, func() { m.handlers.unknownOfferSent(o) })
		case prev != o.State:
			if glitched {
				// keep prev as the baseline until a complete snapshot shows up
				m.log.Debug("suppressing change of glitched sent offer", "offer", o.ID, "state", o.State)
				continue
			}
			if o.FromRealTimeTrade && o.State == StateAccepted {
				events = append(events, func() { m.handlers.realTimeCompleted(o) })
			}
			events = append(events, func() { m.handlers.sentOfferChanged(o, prev) })
		}

		pd.Sent[o.ID] = o.State
		pd.Timestamps[o.ID] = o.Created.Unix()
	}
	m.mu.Unlock()

	for _, fire := range events {
		fire()
	}
	events = events[:0]

	m.applyCancelPolicies(ctx, sent, now)

	m.mu.Lock()
	pd = m.pollData
	for _, o := range received {
		seen(o)
		if o.IsGlitched() {
			m.log.Debug("skipping glitched received offer", "offer", o.ID)
			deferred = true
			continue
		}
		prev, known := pd.Received[o.ID]

		if o.FromRealTimeTrade {
			if !known && needsRealTimeConfirmation(o) {
				events = append(events, func() { m.handlers.realTimeConfirmationRequired(o) })
			} else if o.State == StateAccepted && (!known || prev != o.State) {
				events = append(events, func() { m.handlers.realTimeCompleted(o) })
			}
		}

		switch {
		case !known && o.State == StateActive:
			events = append(events, func() { m.handlers.newOffer(o) })
		case known && prev != o.State:
			events = append(events, func() { m.handlers.receivedOfferChanged(o, prev) })
		}

		pd.Received[o.ID] = o.State
		pd.Timestamps[o.ID] = o.Created.Unix()
	}

	if !deferred && latest > pd.OffersSince {
		pd.OffersSince = latest
	}
	changed := !before.Equal(pd)
	m.mu.Unlock()

	for _, fire := range events {
		fire()
	}

	m.handlers.pollSuccess()
	if changed {
		m.pollDataChanged(ctx)
	}
	return nil
}

// needsRealTimeConfirmation reports whether a trade session that turned into
// o still waits for a confirmation.
func needsRealTimeConfirmation(o *Offer) bool {
	return o.State == StateCreatedNeedsConfirmation ||
		(o.State == StateActive && o.ConfirmationMethod != ConfirmationNone)
}

// applyCancelPolicies cancels sent offers that outlived their configured age
// and enforces the cap on concurrently active sent offers.
func (m *Manager) applyCancelPolicies(ctx context.Context, sent []*Offer, now time.Time) {
	var active []*Offer
	for _, o := range sent {
		switch o.State {
		case StateActive:
			cancelTime := m.opts.CancelTime
			if custom, ok := o.CancelTime(); ok {
				cancelTime = custom
			}
			if cancelTime > 0 && now.Sub(o.Updated) >= cancelTime {
				m.autoCancel(ctx, o, func() { m.handlers.sentOfferCanceled(o, CancelReasonTime) })
				continue
			}
			active = append(active, o)
		case StateCreatedNeedsConfirmation:
			pendingCancelTime := m.opts.PendingCancelTime
			if custom, ok := o.PendingCancelTime(); ok {
				pendingCancelTime = custom
			}
			if pendingCancelTime > 0 && now.Sub(o.Created) >= pendingCancelTime {
				m.autoCancel(ctx, o, func() { m.handlers.sentPendingOfferCanceled(o) })
			}
		}
	}

	if m.opts.CancelOfferCount <= 0 || len(active) < m.opts.CancelOfferCount {
		return
	}
	oldest := active[0]
	for _, o := range active[1:] {
		if o.Updated.Before(oldest.Updated) {
			oldest = o
		}
	}
	if now.Sub(oldest.Updated) >= m.opts.CancelOfferCountMinAge {
		m.autoCancel(ctx, oldest, func() { m.handlers.sentOfferCanceled(oldest, CancelReasonCount) })
	}
}

func (m *Manager) autoCancel(ctx context.Context, o *Offer, done func()) {
	if err := o.Cancel(ctx); err != nil {
		m.log.Warn("cannot cancel offer", "offer", o.ID, "error", err)
		return
	}
	done()
}
