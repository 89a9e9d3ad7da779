package tradeoffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	steam "github.com/zergu1ar/steamtrade"
)

const (
	minPollSpacing      = time.Second
	fullPollInterval    = 2 * time.Minute
	pollBuffer          = 30 * time.Minute
	DefaultPollInterval = 30 * time.Second

	offerLifetime = 14 * 24 * time.Hour
)

var ErrNoInventoryProvider = errors.New("no inventory provider configured")

var (
	_ Remote            = (*steam.Client)(nil)
	_ InventoryProvider = (*steam.Client)(nil)
	_ SessionTransport  = (*steam.Client)(nil)
)

// Remote is the offer transport, usually *steam.Client.
type Remote interface {
	GetSteamId() steam.SteamID
	GetTradeOffer(ctx context.Context, id uint64) (*steam.TradeOfferResponse, error)
	GetTradeOffers(ctx context.Context, filter uint32, cutoff time.Time) (*steam.TradeOfferResponse, error)
	SendTradeOffer(ctx context.Context, offer *steam.SendOfferRequest) (*steam.SendOfferResult, error)
	CancelTradeOffer(ctx context.Context, id uint64) error
	DeclineTradeOffer(ctx context.Context, id uint64) error
	AcceptTradeOffer(ctx context.Context, id uint64, partner steam.SteamID) (*steam.AcceptResult, error)
	GetTradeStatus(ctx context.Context, tradeID uint64) (*steam.TradeExchange, error)
	GetEscrowGuardInfo(ctx context.Context, sid steam.SteamID, token string, offerID uint64) (*steam.EscrowSteamGuardInfo, error)
	GetTradeReceivedItems(ctx context.Context, receiptID uint64) ([]*steam.InventoryItem, error)
	DescriptionSource
}

// InventoryProvider loads inventories, usually *steam.Client.
type InventoryProvider interface {
	GetInventory(ctx context.Context, sid steam.SteamID, appID uint32, contextID uint64, tradableOnly bool) ([]*steam.InventoryItem, error)
	GetForeignInventory(ctx context.Context, partner steam.SteamID, appID uint32, contextID uint64) ([]*steam.InventoryItem, error)
}

// SessionTransport carries real-time trade commands, usually *steam.Client.
type SessionTransport interface {
	PostTradeCommand(ctx context.Context, partner steam.SteamID, command string, form url.Values) (*steam.TradeSessionStatus, error)
	GetTradeWindow(ctx context.Context, partner steam.SteamID) (*steam.EscrowSteamGuardInfo, error)
}

// PollStore persists poll data. Load returns nil, nil when nothing is stored.
type PollStore interface {
	Load(ctx context.Context, steamID steam.SteamID) (*PollData, error)
	Save(ctx context.Context, steamID steam.SteamID, data *PollData) error
}

type Options struct {
	// Language is the Steam language name used for item descriptions. When
	// empty, descriptions are not resolved and unnamed items are not glitched.
	Language string

	// PollInterval defaults to DefaultPollInterval. A negative interval
	// disables the timer; DoPoll still triggers cycles.
	PollInterval time.Duration

	CancelTime             time.Duration
	PendingCancelTime      time.Duration
	CancelOfferCount       int
	CancelOfferCountMinAge time.Duration

	AssetCache *AssetCache
	Store      PollStore
	Inventory  InventoryProvider
	Sessions   SessionTransport

	// SessionPollInterval defaults to one second.
	SessionPollInterval time.Duration
	// RetryDelay separates retries of session commands and inventory loads.
	RetryDelay time.Duration

	Logger   *slog.Logger
	Now      func() time.Time
	Handlers Handlers
}

// Manager keeps PollData in sync with the remote offer list and hands out
// offers and trade sessions.
type Manager struct {
	remote   Remote
	opts     Options
	assets   *AssetCache
	log      *slog.Logger
	now      func() time.Time
	handlers Handlers

	mu       sync.Mutex
	pollData *PollData
	saveMu   sync.Mutex

	// only touched by the poll loop
	lastPoll     time.Time
	lastFullPoll time.Time

	pendingSends atomic.Int32
	wake         chan struct{}
}

func NewManager(remote Remote, opts Options) (*Manager, error) {
	if remote == nil {
		return nil, errors.New("tradeoffer: nil remote")
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SessionPollInterval <= 0 {
		opts.SessionPollInterval = time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = inventoryRetryDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	assets := opts.AssetCache
	if assets == nil {
		var err error
		if assets, err = NewAssetCache(0); err != nil {
			return nil, err
		}
	}

	return &Manager{
		remote:   remote,
		opts:     opts,
		assets:   assets,
		log:      logger.With("component", "tradeoffer"),
		now:      opts.Now,
		handlers: opts.Handlers,
		pollData: NewPollData(),
		wake:     make(chan struct{}, 1),
	}, nil
}

func (m *Manager) SteamID() steam.SteamID {
	return m.remote.GetSteamId()
}

func (m *Manager) Language() string {
	return m.opts.Language
}

// Run loads the stored poll data and polls until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.loadPollData(ctx); err != nil {
		m.log.Warn("cannot load poll data", "error", err)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-m.wake:
		}

		if next := m.tick(ctx); next > 0 {
			timer.Reset(next)
		} else {
			timer.Stop()
		}
	}
}

// DoPoll asks the poll loop for a cycle as soon as the rate limit allows. It
// never blocks; hints received while a cycle is pending are coalesced.
func (m *Manager) DoPoll() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// tick runs one cycle unless the previous cycle finished less than
// minPollSpacing ago. It returns the delay before the next cycle, or 0 when
// the timer should stay disarmed.
func (m *Manager) tick(ctx context.Context) time.Duration {
	if !m.lastPoll.IsZero() {
		if elapsed := m.now().Sub(m.lastPoll); elapsed < minPollSpacing {
			return minPollSpacing - elapsed
		}
	}

	if err := m.pollCycle(ctx); err != nil {
		m.log.Debug("poll failed", "error", err)
		m.handlers.pollFailure(err)
	}
	m.lastPoll = m.now()

	if m.opts.PollInterval < 0 {
		return 0
	}
	return m.opts.PollInterval
}

func (m *Manager) loadPollData(ctx context.Context) error {
	if m.opts.Store == nil {
		return nil
	}
	pd, err := m.opts.Store.Load(ctx, m.SteamID())
	if err != nil {
		return err
	}
	if pd != nil {
		m.SetPollData(pd)
	}
	return nil
}

// PollData returns a copy of the current poll data.
func (m *Manager) PollData() *PollData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollData.Clone()
}

// SetPollData replaces the poll data, e.g. with a copy restored by the caller.
func (m *Manager) SetPollData(pd *PollData) {
	pd = pd.Clone()
	m.mu.Lock()
	m.pollData = pd
	m.mu.Unlock()
}

// pollDataChanged persists the current poll data and notifies the PollData
// handler. Saves are serialized and each one snapshots the data only after the
// previous save finished, so an older snapshot never lands last.
func (m *Manager) pollDataChanged(ctx context.Context) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	snapshot := m.pollData.Clone()
	m.mu.Unlock()

	if m.opts.Store != nil {
		if err := m.opts.Store.Save(ctx, m.SteamID(), snapshot); err != nil {
			m.log.Warn("cannot save poll data", "error", err)
		}
	}
	m.handlers.pollDataChanged(snapshot)
}

// CreateOffer returns a new unsent offer to partner. token is the partner's
// trade token and may be empty for friends.
func (m *Manager) CreateOffer(partner steam.SteamID, token string) (*Offer, error) {
	if !partner.IsValid() {
		return nil, ErrInvalidSteam
	}
	return &Offer{
		manager:    m,
		Partner:    partner,
		State:      StateUnsent,
		IsOurOffer: true,
		token:      token,
	}, nil
}

// CreateOfferFromTradeURL parses a trade URL such as
// https://steamcommunity.com/tradeoffer/new/?partner=12345&token=xxxx.
func (m *Manager) CreateOfferFromTradeURL(tradeURL string) (*Offer, error) {
	u, err := url.Parse(tradeURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	accountID, err := strconv.ParseUint(u.Query().Get("partner"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: no partner", ErrInvalidURL)
	}
	return m.CreateOffer(steam.NewSteamIDFromAccountID(uint32(accountID)), u.Query().Get("token"))
}

// GetOffer fetches one offer.
func (m *Manager) GetOffer(ctx context.Context, id uint64) (*Offer, error) {
	resp, err := m.remote.GetTradeOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if resp.Offer == nil || resp.Offer.IsSuperMalformed() {
		return nil, ErrDataUnavailable
	}
	m.assets.AddAll(resp.Descriptions)

	offer := m.offerFromWire(resp.Offer)
	m.describeOffers(ctx, []*Offer{offer})
	return offer, nil
}

// GetOffers fetches sent and received offers. cutoff bounds historical
// offers; the zero time applies no cutoff.
func (m *Manager) GetOffers(ctx context.Context, filter OfferFilter, cutoff time.Time) (sent, received []*Offer, err error) {
	flags := uint32(steam.TradeFilterSentOffers | steam.TradeFilterRecvOffers)
	switch filter {
	case FilterActiveOnly:
		flags |= steam.TradeFilterActiveOnly
	case FilterHistoricalOnly:
		flags |= steam.TradeFilterHistoricalOnly
	case FilterAll:
	default:
		return nil, nil, fmt.Errorf("unknown offer filter %d", filter)
	}
	if m.opts.Language != "" {
		flags |= steam.TradeFilterItemDescriptions
	}

	resp, err := m.remote.GetTradeOffers(ctx, flags, cutoff)
	if err != nil {
		return nil, nil, err
	}

	all := make([]*steam.TradeOffer, 0, len(resp.SentOffers)+len(resp.ReceivedOffers))
	all = append(all, resp.SentOffers...)
	all = append(all, resp.ReceivedOffers...)
	if len(all) > 0 {
		malformed, superMalformed := 0, false
		for _, o := range all {
			if o.IsMalformed() {
				malformed++
			}
			if o.IsSuperMalformed() {
				superMalformed = true
			}
		}
		if malformed == len(all) || superMalformed {
			return nil, nil, ErrDataUnavailable
		}
	}

	m.assets.AddAll(resp.Descriptions)

	sent = make([]*Offer, 0, len(resp.SentOffers))
	for _, o := range resp.SentOffers {
		sent = append(sent, m.offerFromWire(o))
	}
	received = make([]*Offer, 0, len(resp.ReceivedOffers))
	for _, o := range resp.ReceivedOffers {
		received = append(received, m.offerFromWire(o))
	}

	m.describeOffers(ctx, slices.Concat(sent, received))

	m.handlers.offerList(filter, sent, received)
	return sent, received, nil
}

// GetOffersContainingItems returns offers that include any of items.
func (m *Manager) GetOffersContainingItems(ctx context.Context, items []Item, includeInactive bool) (sent, received []*Offer, err error) {
	filter := FilterActiveOnly
	if includeInactive {
		filter = FilterAll
	}
	allSent, allReceived, err := m.GetOffers(ctx, filter, time.Time{})
	if err != nil {
		return nil, nil, err
	}

	contains := func(o *Offer) bool {
		for _, item := range items {
			if o.ContainsItem(item) {
				return true
			}
		}
		return false
	}
	for _, o := range allSent {
		if contains(o) {
			sent = append(sent, o)
		}
	}
	for _, o := range allReceived {
		if contains(o) {
			received = append(received, o)
		}
	}
	return sent, received, nil
}

// GetInventoryContents loads our own inventory.
func (m *Manager) GetInventoryContents(ctx context.Context, appID uint32, contextID uint64, tradableOnly bool) ([]Item, error) {
	return m.GetUserInventoryContents(ctx, m.SteamID(), appID, contextID, tradableOnly)
}

// GetUserInventoryContents loads the inventory of sid.
func (m *Manager) GetUserInventoryContents(ctx context.Context, sid steam.SteamID, appID uint32, contextID uint64, tradableOnly bool) ([]Item, error) {
	if m.opts.Inventory == nil {
		return nil, ErrNoInventoryProvider
	}
	inv, err := m.opts.Inventory.GetInventory(ctx, sid, appID, contextID, tradableOnly)
	if err != nil {
		return nil, err
	}
	for _, item := range inv {
		if item.Desc != nil {
			m.assets.Add(item.AppID, item.Desc)
		}
	}
	return itemsFromInventory(inv), nil
}

func (m *Manager) offerFromWire(w *steam.TradeOffer) *Offer {
	o := &Offer{
		manager:            m,
		ID:                 uint64(w.ID),
		Partner:            w.PartnerSteamID(),
		Message:            w.Message,
		State:              OfferState(w.State),
		ItemsToGive:        itemsFromEcon(w.SendItems),
		ItemsToReceive:     itemsFromEcon(w.RecvItems),
		IsOurOffer:         w.IsOurOffer,
		Created:            time.Unix(w.Created, 0),
		Updated:            time.Unix(w.Updated, 0),
		Expires:            time.Unix(w.Expires, 0),
		TradeID:            uint64(w.ReceiptID),
		FromRealTimeTrade:  w.RealTime,
		ConfirmationMethod: ConfirmationMethod(w.ConfirmationMethod),
	}
	if w.EscrowEndDate > 0 {
		o.EscrowEnds = time.Unix(w.EscrowEndDate, 0)
	}
	return o
}

// describeOffers resolves item names when a language is configured. Failures
// are logged and leave the items unresolved.
func (m *Manager) describeOffers(ctx context.Context, offers []*Offer) {
	if m.opts.Language == "" {
		return
	}
	var items []*Item
	for _, o := range offers {
		items = append(items, itemPointers(o.ItemsToGive)...)
		items = append(items, itemPointers(o.ItemsToReceive)...)
	}
	m.describeItems(ctx, items)
}

func (m *Manager) describeItems(ctx context.Context, items []*Item) {
	if m.opts.Language == "" || len(items) == 0 {
		return
	}
	if err := m.assets.Describe(ctx, m.remote, m.opts.Language, items); err != nil {
		m.log.Debug("cannot resolve item descriptions", "error", err)
	}
}
