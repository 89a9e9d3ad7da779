package tradeoffer

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	steam "github.com/zergu1ar/steamtrade"
)

const (
	testSelf    = steam.SteamID(76561198006409530)
	testPartner = steam.SteamID(76561198000000001)
)

var testEpoch = time.Unix(1700000000, 0)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type offersCall struct {
	Filter uint32
	Cutoff time.Time
}

type fakeRemote struct {
	mu sync.Mutex

	offers     *steam.TradeOfferResponse
	offersErr  error
	offerCalls []offersCall

	single map[uint64]*steam.TradeOffer

	sendResult *steam.SendOfferResult
	sendErr    error
	sent       []*steam.SendOfferRequest
	onSend     func()

	canceled  []uint64
	declined  []uint64
	cancelErr error

	acceptResult *steam.AcceptResult
	accepted     []uint64

	exchange *steam.TradeExchange
	escrow   *steam.EscrowSteamGuardInfo

	receipt    []*steam.InventoryItem
	receiptErr error

	classInfo  map[steam.ClassInstance]*steam.EconItemDesc
	classCalls [][]steam.ClassInstance
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		offers: &steam.TradeOfferResponse{},
		single: make(map[uint64]*steam.TradeOffer),
	}
}

func (f *fakeRemote) setOffers(sent, received []*steam.TradeOffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = &steam.TradeOfferResponse{SentOffers: sent, ReceivedOffers: received}
}

func (f *fakeRemote) calls() []offersCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]offersCall(nil), f.offerCalls...)
}

func (f *fakeRemote) canceledIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.canceled...)
}

func (f *fakeRemote) GetSteamId() steam.SteamID {
	return testSelf
}

func (f *fakeRemote) GetTradeOffer(_ context.Context, id uint64) (*steam.TradeOfferResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.single[id]
	if !ok {
		return &steam.TradeOfferResponse{}, nil
	}
	cp := *o
	return &steam.TradeOfferResponse{Offer: &cp}, nil
}

func (f *fakeRemote) GetTradeOffers(_ context.Context, filter uint32, cutoff time.Time) (*steam.TradeOfferResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerCalls = append(f.offerCalls, offersCall{Filter: filter, Cutoff: cutoff})
	if f.offersErr != nil {
		return nil, f.offersErr
	}
	// fresh copies so a poll never shares offers with the previous one
	resp := &steam.TradeOfferResponse{Descriptions: f.offers.Descriptions}
	for _, o := range f.offers.SentOffers {
		cp := *o
		resp.SentOffers = append(resp.SentOffers, &cp)
	}
	for _, o := range f.offers.ReceivedOffers {
		cp := *o
		resp.ReceivedOffers = append(resp.ReceivedOffers, &cp)
	}
	return resp, nil
}

func (f *fakeRemote) SendTradeOffer(_ context.Context, offer *steam.SendOfferRequest) (*steam.SendOfferResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, offer)
	hook := f.onSend
	res, err := f.sendResult, f.sendErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return res, err
}

func (f *fakeRemote) CancelTradeOffer(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeRemote) DeclineTradeOffer(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.declined = append(f.declined, id)
	return nil
}

func (f *fakeRemote) AcceptTradeOffer(_ context.Context, id uint64, _ steam.SteamID) (*steam.AcceptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	if f.acceptResult == nil {
		return &steam.AcceptResult{}, nil
	}
	return f.acceptResult, nil
}

func (f *fakeRemote) GetTradeStatus(_ context.Context, _ uint64) (*steam.TradeExchange, error) {
	return f.exchange, nil
}

func (f *fakeRemote) GetEscrowGuardInfo(_ context.Context, _ steam.SteamID, _ string, _ uint64) (*steam.EscrowSteamGuardInfo, error) {
	return f.escrow, nil
}

func (f *fakeRemote) GetTradeReceivedItems(_ context.Context, _ uint64) ([]*steam.InventoryItem, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeRemote) GetAssetClassInfo(_ context.Context, _ uint32, classes []steam.ClassInstance, _ string) (map[steam.ClassInstance]*steam.EconItemDesc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classCalls = append(f.classCalls, classes)
	out := make(map[steam.ClassInstance]*steam.EconItemDesc)
	for _, c := range classes {
		if desc, ok := f.classInfo[c]; ok {
			cp := *desc
			out[c] = &cp
		}
	}
	return out, nil
}

type fakeStore struct {
	mu    sync.Mutex
	data  *PollData
	saves int
}

func (s *fakeStore) Load(_ context.Context, _ steam.SteamID) (*PollData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return s.data.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, _ steam.SteamID, data *PollData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data.Clone()
	s.saves++
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fakeInventory struct {
	mu      sync.Mutex
	mine    map[inventoryKey][]*steam.InventoryItem
	theirs  map[inventoryKey][]*steam.InventoryItem
	calls   int
	failFor int
	block   chan struct{}
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		mine:   make(map[inventoryKey][]*steam.InventoryItem),
		theirs: make(map[inventoryKey][]*steam.InventoryItem),
	}
}

func (f *fakeInventory) GetInventory(ctx context.Context, _ steam.SteamID, appID uint32, contextID uint64, _ bool) ([]*steam.InventoryItem, error) {
	return f.get(ctx, f.mine, appID, contextID)
}

func (f *fakeInventory) GetForeignInventory(ctx context.Context, _ steam.SteamID, appID uint32, contextID uint64) ([]*steam.InventoryItem, error) {
	return f.get(ctx, f.theirs, appID, contextID)
}

func (f *fakeInventory) get(ctx context.Context, src map[inventoryKey][]*steam.InventoryItem, appID uint32, contextID uint64) ([]*steam.InventoryItem, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failFor > 0
	if fail {
		f.failFor--
	}
	block := f.block
	inv := src[inventoryKey{appID, contextID}]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, steam.ErrNoSuccess
	}
	return inv, nil
}

func (f *fakeInventory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTransport struct {
	mu        sync.Mutex
	responses map[string][]*steam.TradeSessionStatus
	last      map[string]*steam.TradeSessionStatus
	errs      map[string]error
	posted    []postedCommand
	window    *steam.EscrowSteamGuardInfo
}

type postedCommand struct {
	Name string
	Form url.Values
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string][]*steam.TradeSessionStatus),
		last:      make(map[string]*steam.TradeSessionStatus),
		errs:      make(map[string]error),
		window:    &steam.EscrowSteamGuardInfo{MyName: "me", ThemName: "them"},
	}
}

// respond queues a status answer for the next command called name. The last
// queued answer is repeated once the queue runs dry.
func (f *fakeTransport) respond(name string, status *steam.TradeSessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[name] = append(f.responses[name], status)
}

func (f *fakeTransport) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = err
}

func (f *fakeTransport) commands() []postedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedCommand(nil), f.posted...)
}

func (f *fakeTransport) PostTradeCommand(_ context.Context, _ steam.SteamID, command string, form url.Values) (*steam.TradeSessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, postedCommand{Name: command, Form: form})
	if err := f.errs[command]; err != nil {
		return nil, err
	}
	if queue := f.responses[command]; len(queue) > 0 {
		f.last[command] = queue[0]
		f.responses[command] = queue[1:]
	}
	status, ok := f.last[command]
	if !ok {
		return nil, steam.ErrNoSuccess
	}
	return status, nil
}

func (f *fakeTransport) GetTradeWindow(_ context.Context, _ steam.SteamID) (*steam.EscrowSteamGuardInfo, error) {
	return f.window, nil
}

func newTestManager(t *testing.T, remote Remote, opts Options) *Manager {
	t.Helper()
	if opts.Now == nil {
		opts.Now = newFakeClock().Now
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	m, err := NewManager(remote, opts)
	require.NoError(t, err)
	return m
}

func econ(appID uint32, assetID uint64) *steam.EconItem {
	return &steam.EconItem{
		AppID:      appID,
		ContextID:  2,
		AssetID:    steam.FlexUint(assetID),
		ClassID:    steam.FlexUint(assetID * 10),
		InstanceID: 0,
		Amount:     1,
	}
}

func wireOffer(id uint64, state OfferState, updated time.Time, ours bool, items ...*steam.EconItem) *steam.TradeOffer {
	o := &steam.TradeOffer{
		ID:         steam.FlexUint(id),
		Partner:    testPartner.GetAccountID(),
		State:      uint8(state),
		Created:    updated.Add(-time.Minute).Unix(),
		Updated:    updated.Unix(),
		Expires:    updated.Add(offerLifetime).Unix(),
		IsOurOffer: ours,
	}
	if ours {
		o.SendItems = items
	} else {
		o.RecvItems = items
	}
	return o
}

func testItem(assetID uint64) Item {
	return Item{AppID: 730, ContextID: 2, AssetID: assetID, Amount: 1, ClassID: assetID * 10}
}
