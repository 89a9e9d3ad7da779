package tradeoffer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	steam "github.com/zergu1ar/steamtrade"
)

const (
	maxMessageLength = 128

	keyCancelTime        = "cancelTime"
	keyPendingCancelTime = "pendingCancelTime"
)

// Offer is a trade offer, either created locally or reconstructed from a
// fetch. It is a snapshot: nothing updates it behind the caller's back.
type Offer struct {
	// ID is 0 until the offer is sent.
	ID      uint64
	Partner steam.SteamID
	Message string
	State   OfferState

	ItemsToGive    []Item
	ItemsToReceive []Item

	IsOurOffer bool
	Created    time.Time
	Updated    time.Time
	Expires    time.Time

	// TradeID is set once the offer is accepted.
	TradeID            uint64
	FromRealTimeTrade  bool
	ConfirmationMethod ConfirmationMethod
	EscrowEnds         time.Time

	// CounteringID is the offer this one counters.
	CounteringID uint64

	manager  *Manager
	token    string
	tempData map[string]json.RawMessage
}

func (o *Offer) String() string {
	if o.ID == 0 {
		return fmt.Sprintf("unsent offer to %s", o.Partner)
	}
	return fmt.Sprintf("offer #%d (%s)", o.ID, o.State)
}

func (o *Offer) fail(op string, err error) error {
	return &PreconditionError{Op: op, OfferID: o.ID, State: o.State, Err: err}
}

// IsGlitched reports whether the offer is a structurally incomplete snapshot:
// no items at all, or unnamed items while descriptions are enabled.
func (o *Offer) IsGlitched() bool {
	if o.ID == 0 {
		return false
	}
	if len(o.ItemsToGive)+len(o.ItemsToReceive) == 0 {
		return true
	}
	if o.manager == nil || o.manager.Language() == "" {
		return false
	}
	for _, list := range [][]Item{o.ItemsToGive, o.ItemsToReceive} {
		for _, item := range list {
			if !item.Described() {
				return true
			}
		}
	}
	return false
}

func (o *Offer) ContainsItem(item Item) bool {
	return indexOfItem(o.ItemsToGive, item) >= 0 || indexOfItem(o.ItemsToReceive, item) >= 0
}

func (o *Offer) AddMyItem(item Item) (bool, error) {
	return o.addItem("add my item", &o.ItemsToGive, item)
}

func (o *Offer) AddMyItems(items []Item) (int, error) {
	return o.addItems("add my items", &o.ItemsToGive, items)
}

func (o *Offer) RemoveMyItem(item Item) (bool, error) {
	return o.removeItem("remove my item", &o.ItemsToGive, item)
}

func (o *Offer) RemoveMyItems(items []Item) (int, error) {
	return o.removeItems("remove my items", &o.ItemsToGive, items)
}

func (o *Offer) AddTheirItem(item Item) (bool, error) {
	return o.addItem("add their item", &o.ItemsToReceive, item)
}

func (o *Offer) AddTheirItems(items []Item) (int, error) {
	return o.addItems("add their items", &o.ItemsToReceive, items)
}

func (o *Offer) RemoveTheirItem(item Item) (bool, error) {
	return o.removeItem("remove their item", &o.ItemsToReceive, item)
}

func (o *Offer) RemoveTheirItems(items []Item) (int, error) {
	return o.removeItems("remove their items", &o.ItemsToReceive, items)
}

func (o *Offer) addItem(op string, list *[]Item, item Item) (bool, error) {
	if o.ID != 0 {
		return false, o.fail(op, ErrAlreadySent)
	}
	if indexOfItem(*list, item) >= 0 {
		return false, nil
	}
	*list = append(*list, item)
	return true, nil
}

func (o *Offer) addItems(op string, list *[]Item, items []Item) (int, error) {
	if o.ID != 0 {
		return 0, o.fail(op, ErrAlreadySent)
	}
	added := 0
	for _, item := range items {
		if ok, _ := o.addItem(op, list, item); ok {
			added++
		}
	}
	return added, nil
}

func (o *Offer) removeItem(op string, list *[]Item, item Item) (bool, error) {
	if o.ID != 0 {
		return false, o.fail(op, ErrAlreadySent)
	}
	idx := indexOfItem(*list, item)
	if idx < 0 {
		return false, nil
	}
	*list = slices.Delete(*list, idx, idx+1)
	return true, nil
}

func (o *Offer) removeItems(op string, list *[]Item, items []Item) (int, error) {
	if o.ID != 0 {
		return 0, o.fail(op, ErrAlreadySent)
	}
	removed := 0
	for _, item := range items {
		if ok, _ := o.removeItem(op, list, item); ok {
			removed++
		}
	}
	return removed, nil
}

// SetMessage sets the offer message, truncated to 128 characters.
func (o *Offer) SetMessage(msg string) error {
	if o.ID != 0 {
		return o.fail("set message", ErrAlreadySent)
	}
	if utf8.RuneCountInString(msg) > maxMessageLength {
		msg = string([]rune(msg)[:maxMessageLength])
	}
	o.Message = msg
	return nil
}

// SetToken sets the partner's trade token, needed when the partner is not a friend.
func (o *Offer) SetToken(token string) error {
	if o.ID != 0 {
		return o.fail("set token", ErrAlreadySent)
	}
	o.token = token
	return nil
}

// Data returns the raw JSON stored under key.
func (o *Offer) Data(key string) (json.RawMessage, bool) {
	if o.ID == 0 || o.manager == nil {
		v, ok := o.tempData[key]
		return v, ok
	}
	m := o.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.pollData.OfferData[o.ID][key]
	return bytes.Clone(v), ok
}

// SetData stores value as JSON under key. A nil value deletes the key. The
// cancel time keys are reserved, use SetCancelTime and SetPendingCancelTime.
func (o *Offer) SetData(key string, value any) error {
	if key == keyCancelTime || key == keyPendingCancelTime {
		return o.fail("set data", fmt.Errorf("%w: %q", ErrReservedKey, key))
	}
	return o.putData(key, value)
}

// SetCancelTime overrides the manager's cancel time for this offer. d <= 0
// removes the override.
func (o *Offer) SetCancelTime(d time.Duration) error {
	if err := o.checkPolicyData("set cancel time"); err != nil {
		return err
	}
	return o.putDuration(keyCancelTime, d)
}

func (o *Offer) CancelTime() (time.Duration, bool) {
	return o.duration(keyCancelTime)
}

// SetPendingCancelTime overrides the manager's pending cancel time for this
// offer. d <= 0 removes the override.
func (o *Offer) SetPendingCancelTime(d time.Duration) error {
	if err := o.checkPolicyData("set pending cancel time"); err != nil {
		return err
	}
	return o.putDuration(keyPendingCancelTime, d)
}

func (o *Offer) PendingCancelTime() (time.Duration, bool) {
	return o.duration(keyPendingCancelTime)
}

func (o *Offer) checkPolicyData(op string) error {
	if !o.IsOurOffer {
		return o.fail(op, ErrNotOurOffer)
	}
	if o.ID != 0 && !o.State.Open() {
		return o.fail(op, ErrNotActive)
	}
	return nil
}

// durations are stored in milliseconds
func (o *Offer) putDuration(key string, d time.Duration) error {
	if d <= 0 {
		return o.putData(key, nil)
	}
	return o.putData(key, d.Milliseconds())
}

func (o *Offer) duration(key string) (time.Duration, bool) {
	raw, ok := o.Data(key)
	if !ok {
		return 0, false
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func (o *Offer) putData(key string, value any) error {
	var raw json.RawMessage
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return err
		}
		raw = b
	}

	if o.ID == 0 || o.manager == nil {
		if raw == nil {
			delete(o.tempData, key)
			return nil
		}
		if o.tempData == nil {
			o.tempData = make(map[string]json.RawMessage)
		}
		o.tempData[key] = raw
		return nil
	}

	m := o.manager
	m.mu.Lock()
	bag := m.pollData.OfferData[o.ID]
	if raw == nil {
		delete(bag, key)
		if len(bag) == 0 {
			delete(m.pollData.OfferData, o.ID)
		}
	} else {
		if bag == nil {
			bag = make(map[string]json.RawMessage)
			m.pollData.OfferData[o.ID] = bag
		}
		bag[key] = raw
	}
	m.mu.Unlock()

	m.pollDataChanged(context.Background())
	return nil
}

// Send sends an unsent offer. The returned status is SendPending when the
// offer awaits an email or mobile confirmation.
func (o *Offer) Send(ctx context.Context) (SendStatus, error) {
	if o.manager == nil {
		return "", o.fail("send", ErrNoManager)
	}
	if o.ID != 0 {
		return "", o.fail("send", ErrAlreadySent)
	}
	if len(o.ItemsToGive)+len(o.ItemsToReceive) == 0 {
		return "", o.fail("send", ErrEmptyOffer)
	}

	m := o.manager
	m.pendingSends.Add(1)
	defer m.pendingSends.Add(-1)

	res, err := m.remote.SendTradeOffer(ctx, &steam.SendOfferRequest{
		Partner:     o.Partner,
		Token:       o.token,
		Message:     o.Message,
		SendItems:   econItems(o.ItemsToGive),
		RecvItems:   econItems(o.ItemsToReceive),
		CounteredID: o.CounteringID,
	})
	if err != nil {
		return "", err
	}

	now := m.now()
	o.ID = res.ID
	o.IsOurOffer = true
	o.Created = now
	o.Updated = now
	o.Expires = now.Add(offerLifetime)

	status := SendSent
	o.State = StateActive
	switch {
	case res.EmailConfirmationRequired:
		o.State = StateCreatedNeedsConfirmation
		o.ConfirmationMethod = ConfirmationEmail
		status = SendPending
	case res.MobileConfirmationRequired:
		o.State = StateCreatedNeedsConfirmation
		o.ConfirmationMethod = ConfirmationMobileApp
		status = SendPending
	}

	// recorded before pendingSends drops so the poll loop never sees it as unknown
	m.mu.Lock()
	m.pollData.Sent[o.ID] = o.State
	m.pollData.Timestamps[o.ID] = o.Created.Unix()
	if len(o.tempData) > 0 {
		m.pollData.OfferData[o.ID] = o.tempData
	}
	m.mu.Unlock()
	o.tempData = nil

	m.pollDataChanged(ctx)
	return status, nil
}

// Cancel cancels our offer or declines theirs.
func (o *Offer) Cancel(ctx context.Context) error {
	if o.manager == nil {
		return o.fail("cancel", ErrNoManager)
	}
	if o.ID == 0 {
		return o.fail("cancel", ErrNotSent)
	}
	if !o.State.Open() {
		return o.fail("cancel", ErrNotActive)
	}

	m := o.manager
	if o.IsOurOffer {
		if err := m.remote.CancelTradeOffer(ctx, o.ID); err != nil {
			return err
		}
		o.State = StateCanceled
	} else {
		if err := m.remote.DeclineTradeOffer(ctx, o.ID); err != nil {
			return err
		}
		o.State = StateDeclined
	}
	o.Updated = m.now()

	m.DoPoll()
	return nil
}

// Decline is an alias for Cancel.
func (o *Offer) Decline(ctx context.Context) error {
	return o.Cancel(ctx)
}

// Accept accepts a received offer. Unless skipStateUpdate is set, the offer
// is refreshed afterwards and the status derived from its new state.
func (o *Offer) Accept(ctx context.Context, skipStateUpdate bool) (AcceptStatus, error) {
	switch {
	case o.manager == nil:
		return "", o.fail("accept", ErrNoManager)
	case o.ID == 0:
		return "", o.fail("accept", ErrNotSent)
	case o.IsOurOffer:
		return "", o.fail("accept", ErrOwnOffer)
	case o.State != StateActive:
		return "", o.fail("accept", ErrNotActive)
	}

	m := o.manager
	res, err := m.remote.AcceptTradeOffer(ctx, o.ID, o.Partner)
	if err != nil {
		return "", err
	}
	if res.TradeID != 0 {
		o.TradeID = res.TradeID
	}
	m.DoPoll()

	if skipStateUpdate {
		if res.MobileConfirmationRequired || res.EmailConfirmationRequired {
			return AcceptPending, nil
		}
		o.State = StateAccepted
		return AcceptAccepted, nil
	}

	if err := o.Update(ctx); err != nil {
		return "", fmt.Errorf("cannot load new trade data: %w", err)
	}
	switch {
	case o.ConfirmationMethod != ConfirmationNone && o.State == StateActive:
		return AcceptPending, nil
	case o.State == StateInEscrow:
		return AcceptEscrow, nil
	case o.State == StateAccepted:
		return AcceptAccepted, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownAccept, o.State)
}

// Update refetches the offer. Only volatile fields are copied unless the
// local snapshot is glitched, in which case the fresh one replaces it.
func (o *Offer) Update(ctx context.Context) error {
	if o.manager == nil {
		return o.fail("update", ErrNoManager)
	}
	if o.ID == 0 {
		return o.fail("update", ErrNotSent)
	}

	fresh, err := o.manager.GetOffer(ctx, o.ID)
	if err != nil {
		return err
	}

	if o.IsGlitched() {
		token, countering := o.token, o.CounteringID
		*o = *fresh
		o.token, o.CounteringID = token, countering
		return nil
	}

	o.State = fresh.State
	o.Expires = fresh.Expires
	o.Created = fresh.Created
	o.Updated = fresh.Updated
	o.EscrowEnds = fresh.EscrowEnds
	o.ConfirmationMethod = fresh.ConfirmationMethod
	o.TradeID = fresh.TradeID
	return nil
}

// Counter returns a new unsent offer with the same items that counters o
// once sent.
func (o *Offer) Counter() (*Offer, error) {
	if o.State != StateActive {
		return nil, o.fail("counter", ErrNotActive)
	}
	c := o.Duplicate()
	c.CounteringID = o.ID
	return c, nil
}

// Duplicate returns an unsent copy of o with the same partner and items.
func (o *Offer) Duplicate() *Offer {
	return &Offer{
		manager:        o.manager,
		Partner:        o.Partner,
		token:          o.token,
		State:          StateUnsent,
		IsOurOffer:     true,
		ItemsToGive:    slices.Clone(o.ItemsToGive),
		ItemsToReceive: slices.Clone(o.ItemsToReceive),
	}
}

// GetReceivedItems returns the new assets we received from an accepted offer.
func (o *Offer) GetReceivedItems(ctx context.Context) ([]Item, error) {
	switch {
	case o.manager == nil:
		return nil, o.fail("get received items", ErrNoManager)
	case o.ID == 0:
		return nil, o.fail("get received items", ErrNotSent)
	case o.State != StateAccepted:
		return nil, o.fail("get received items", ErrNotAccepted)
	case o.TradeID == 0:
		return nil, o.fail("get received items", ErrNoTradeID)
	}

	m := o.manager
	inv, err := m.remote.GetTradeReceivedItems(ctx, o.TradeID)
	if errors.Is(err, steam.ErrReceiptMatch) {
		inv, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(inv) == 0 && len(o.ItemsToReceive) > 0 {
		return nil, ErrDataUnavailable
	}

	for _, item := range inv {
		if item.Desc != nil {
			m.assets.Add(item.AppID, item.Desc)
		}
	}
	items := itemsFromInventory(inv)
	m.describeItems(ctx, itemPointers(items))
	return items, nil
}

// ExchangeDetails describes the exchange behind an accepted offer.
type ExchangeDetails struct {
	TradeID  uint64
	Status   TradeStatus
	InitTime time.Time
	Received []Item
	Given    []Item
}

// GetExchangeDetails loads the trade status of an accepted offer.
func (o *Offer) GetExchangeDetails(ctx context.Context) (*ExchangeDetails, error) {
	switch {
	case o.manager == nil:
		return nil, o.fail("get exchange details", ErrNoManager)
	case o.ID == 0:
		return nil, o.fail("get exchange details", ErrNotSent)
	case o.TradeID == 0:
		return nil, o.fail("get exchange details", ErrNoTradeID)
	}

	m := o.manager
	ex, err := m.remote.GetTradeStatus(ctx, o.TradeID)
	if err != nil {
		return nil, err
	}

	details := &ExchangeDetails{
		TradeID:  o.TradeID,
		Status:   TradeStatus(ex.Status),
		InitTime: time.Unix(ex.TimeInit, 0),
		Received: itemsFromEcon(ex.AssetsReceived),
		Given:    itemsFromEcon(ex.AssetsGiven),
	}
	m.describeItems(ctx, append(itemPointers(details.Received), itemPointers(details.Given)...))
	return details, nil
}

type PartyDetails struct {
	PersonaName string
	EscrowDays  int
	Probation   bool
}

type UserDetails struct {
	Me   PartyDetails
	Them PartyDetails
}

// GetUserDetails reads persona names and escrow durations from the offer page.
func (o *Offer) GetUserDetails(ctx context.Context) (*UserDetails, error) {
	if o.manager == nil {
		return nil, o.fail("get user details", ErrNoManager)
	}
	if o.ID != 0 && o.IsGlitched() {
		return nil, o.fail("get user details", ErrDataUnavailable)
	}

	info, err := o.manager.remote.GetEscrowGuardInfo(ctx, o.Partner, o.token, o.ID)
	if err != nil {
		return nil, err
	}
	return &UserDetails{
		Me: PartyDetails{
			PersonaName: info.MyName,
			EscrowDays:  int(info.MyDays),
		},
		Them: PartyDetails{
			PersonaName: info.ThemName,
			EscrowDays:  int(info.ThemDays),
			Probation:   info.ThemProbation,
		},
	}, nil
}

func itemPointers(items []Item) []*Item {
	out := make([]*Item, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}
