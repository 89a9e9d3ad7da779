package tradeoffer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	steam "github.com/zergu1ar/steamtrade"
)

func TestOffer_SendPreconditions(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})

	offer, err := m.CreateOffer(testPartner, "tok")
	require.NoError(t, err)

	_, err = offer.Send(context.Background())
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.ErrorIs(t, err, ErrEmptyOffer)
	assert.Equal(t, "send", pre.Op)
	assert.Empty(t, remote.sent, "no remote call on a failed precondition")

	_, err = m.CreateOffer(steam.SteamID(42), "")
	assert.ErrorIs(t, err, ErrInvalidSteam)
}

func TestOffer_DetachedOfferFailsPrecondition(t *testing.T) {
	ctx := context.Background()
	unsent := &Offer{Partner: testPartner, State: StateUnsent, IsOurOffer: true, ItemsToGive: []Item{testItem(1)}}
	active := &Offer{ID: 9, Partner: testPartner, State: StateActive, TradeID: 3, ItemsToReceive: []Item{testItem(2)}}

	var pre *PreconditionError
	_, err := unsent.Send(ctx)
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "send", pre.Op)
	assert.ErrorIs(t, err, ErrNoManager)

	assert.ErrorIs(t, active.Cancel(ctx), ErrNoManager)
	_, err = active.Accept(ctx, true)
	assert.ErrorIs(t, err, ErrNoManager)
	assert.ErrorIs(t, active.Update(ctx), ErrNoManager)
	_, err = active.GetExchangeDetails(ctx)
	assert.ErrorIs(t, err, ErrNoManager)
	_, err = active.GetUserDetails(ctx)
	assert.ErrorIs(t, err, ErrNoManager)

	active.State = StateAccepted
	_, err = active.GetReceivedItems(ctx)
	assert.ErrorIs(t, err, ErrNoManager)
	assert.Equal(t, StateAccepted, active.State)
}

func TestOffer_Send(t *testing.T) {
	remote := newFakeRemote()
	remote.sendResult = &steam.SendOfferResult{ID: 777}
	store := &fakeStore{}
	clock := newFakeClock()
	m := newTestManager(t, remote, Options{Store: store, Now: clock.Now})

	offer, err := m.CreateOffer(testPartner, "tok")
	require.NoError(t, err)
	added, err := offer.AddMyItem(testItem(1))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = offer.AddMyItem(testItem(1))
	require.NoError(t, err)
	assert.False(t, added, "duplicates are ignored")
	require.NoError(t, offer.SetMessage("hi"))
	require.NoError(t, offer.SetCancelTime(time.Minute))
	require.NoError(t, offer.SetData("note", map[string]int{"a": 1}))

	status, err := offer.Send(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SendSent, status)
	assert.Equal(t, uint64(777), offer.ID)
	assert.Equal(t, StateActive, offer.State)
	assert.Equal(t, clock.Now().Add(14*24*time.Hour), offer.Expires)

	require.Len(t, remote.sent, 1)
	req := remote.sent[0]
	assert.Equal(t, testPartner, req.Partner)
	assert.Equal(t, "tok", req.Token)
	assert.Equal(t, "hi", req.Message)
	require.Len(t, req.SendItems, 1)
	assert.Equal(t, steam.FlexUint(1), req.SendItems[0].AssetID)

	pd := m.PollData()
	assert.Equal(t, StateActive, pd.Sent[777])
	assert.JSONEq(t, `60000`, string(pd.OfferData[777][keyCancelTime]))
	assert.JSONEq(t, `{"a":1}`, string(pd.OfferData[777]["note"]))
	assert.Equal(t, 1, store.saveCount())

	d, ok := offer.CancelTime()
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	_, err = offer.Send(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySent)
	_, err = offer.AddMyItem(testItem(2))
	assert.ErrorIs(t, err, ErrAlreadySent)
	assert.ErrorIs(t, offer.SetMessage("x"), ErrAlreadySent)
}

func TestOffer_SendNeedsConfirmation(t *testing.T) {
	remote := newFakeRemote()
	remote.sendResult = &steam.SendOfferResult{ID: 778, MobileConfirmationRequired: true}
	m := newTestManager(t, remote, Options{})

	offer, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)
	_, err = offer.AddTheirItem(testItem(3))
	require.NoError(t, err)

	status, err := offer.Send(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SendPending, status)
	assert.Equal(t, StateCreatedNeedsConfirmation, offer.State)
	assert.Equal(t, ConfirmationMobileApp, offer.ConfirmationMethod)
	assert.Equal(t, StateCreatedNeedsConfirmation, m.PollData().Sent[778])
}

func TestOffer_SendRecordedBeforePollSeesIt(t *testing.T) {
	remote := newFakeRemote()
	remote.sendResult = &steam.SendOfferResult{ID: 9}
	rec := &recorder{}
	m := newTestManager(t, remote, Options{Handlers: rec.handlers()})
	remote.setOffers([]*steam.TradeOffer{wireOffer(9, StateActive, testEpoch, true, econ(730, 1))}, nil)

	// the offer shows up in a poll while the send is still in flight
	remote.onSend = func() {
		assert.NoError(t, m.pollCycle(context.Background()))
	}

	offer, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)
	_, err = offer.AddMyItem(testItem(1))
	require.NoError(t, err)
	_, err = offer.Send(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.pollCycle(context.Background()))
	assert.Empty(t, rec.unknown)
	assert.Empty(t, rec.sent)
}

func TestOffer_ReservedDataKeys(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{})
	offer, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)

	assert.ErrorIs(t, offer.SetData("cancelTime", 5), ErrReservedKey)
	assert.ErrorIs(t, offer.SetData("pendingCancelTime", 5), ErrReservedKey)

	require.NoError(t, offer.SetData("owner", "alice"))
	raw, ok := offer.Data("owner")
	require.True(t, ok)
	assert.JSONEq(t, `"alice"`, string(raw))

	require.NoError(t, offer.SetData("owner", nil))
	_, ok = offer.Data("owner")
	assert.False(t, ok)
}

func TestOffer_PolicyDataOnlyForOurOpenOffers(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{})
	received := m.offerFromWire(wireOffer(5, StateActive, testEpoch, false, econ(730, 1)))
	assert.ErrorIs(t, received.SetCancelTime(time.Minute), ErrNotOurOffer)

	accepted := m.offerFromWire(wireOffer(6, StateAccepted, testEpoch, true, econ(730, 1)))
	assert.ErrorIs(t, accepted.SetPendingCancelTime(time.Minute), ErrNotActive)

	active := m.offerFromWire(wireOffer(7, StateActive, testEpoch, true, econ(730, 1)))
	require.NoError(t, active.SetCancelTime(90*time.Second))
	assert.JSONEq(t, `90000`, string(m.PollData().OfferData[7][keyCancelTime]))

	require.NoError(t, active.SetCancelTime(0))
	_, ok := m.PollData().OfferData[7]
	assert.False(t, ok)
}

func TestOffer_Cancel(t *testing.T) {
	remote := newFakeRemote()
	clock := newFakeClock()
	m := newTestManager(t, remote, Options{Now: clock.Now})

	unsent, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)
	assert.ErrorIs(t, unsent.Cancel(context.Background()), ErrNotSent)

	ours := m.offerFromWire(wireOffer(1, StateActive, testEpoch.Add(-time.Hour), true, econ(730, 1)))
	clock.Advance(time.Minute)
	require.NoError(t, ours.Cancel(context.Background()))
	assert.Equal(t, StateCanceled, ours.State)
	assert.Equal(t, clock.Now(), ours.Updated)
	assert.Equal(t, []uint64{1}, remote.canceledIDs())

	assert.ErrorIs(t, ours.Cancel(context.Background()), ErrNotActive)

	theirs := m.offerFromWire(wireOffer(2, StateActive, testEpoch, false, econ(730, 1)))
	require.NoError(t, theirs.Decline(context.Background()))
	assert.Equal(t, StateDeclined, theirs.State)
	assert.Equal(t, []uint64{2}, remote.declined)

	select {
	case <-m.wake:
	default:
		t.Fatal("cancel should wake the poll loop")
	}
}

func TestOffer_AcceptPreconditions(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})

	ours := m.offerFromWire(wireOffer(1, StateActive, testEpoch, true, econ(730, 1)))
	_, err := ours.Accept(context.Background(), true)
	assert.ErrorIs(t, err, ErrOwnOffer)

	declined := m.offerFromWire(wireOffer(2, StateDeclined, testEpoch, false, econ(730, 1)))
	_, err = declined.Accept(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotActive)

	assert.Empty(t, remote.accepted)
}

func TestOffer_AcceptSkipStateUpdate(t *testing.T) {
	remote := newFakeRemote()
	remote.acceptResult = &steam.AcceptResult{TradeID: 555}
	m := newTestManager(t, remote, Options{})

	offer := m.offerFromWire(wireOffer(3, StateActive, testEpoch, false, econ(730, 1)))
	status, err := offer.Accept(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, AcceptAccepted, status)
	assert.Equal(t, uint64(555), offer.TradeID)
	assert.Equal(t, StateAccepted, offer.State)

	remote.acceptResult = &steam.AcceptResult{MobileConfirmationRequired: true}
	pending := m.offerFromWire(wireOffer(4, StateActive, testEpoch, false, econ(730, 1)))
	status, err = pending.Accept(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, AcceptPending, status)
	assert.Equal(t, StateActive, pending.State)
}

func TestOffer_AcceptRefreshes(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})

	wire := wireOffer(3, StateActive, testEpoch, false, econ(730, 1))
	offer := m.offerFromWire(wire)

	escrow := *wire
	escrow.State = uint8(StateInEscrow)
	escrow.EscrowEndDate = testEpoch.Add(15 * 24 * time.Hour).Unix()
	escrow.ReceiptID = 999
	remote.single[3] = &escrow

	status, err := offer.Accept(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, AcceptEscrow, status)
	assert.Equal(t, StateInEscrow, offer.State)
	assert.Equal(t, uint64(999), offer.TradeID)
	assert.Equal(t, testEpoch.Add(15*24*time.Hour).Unix(), offer.EscrowEnds.Unix())

	remote.single[4] = wireOffer(4, StateCountered, testEpoch, false, econ(730, 1))
	odd := m.offerFromWire(wireOffer(4, StateActive, testEpoch, false, econ(730, 1)))
	_, err = odd.Accept(context.Background(), false)
	assert.ErrorIs(t, err, ErrUnknownAccept)
}

func TestOffer_UpdateMergesVolatileFields(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})

	offer := m.offerFromWire(wireOffer(1, StateActive, testEpoch, false, econ(730, 1)))
	offer.Message = "local"

	fresh := wireOffer(1, StateAccepted, testEpoch.Add(time.Minute), false, econ(730, 1), econ(730, 2))
	fresh.Message = "remote"
	fresh.ReceiptID = 42
	remote.single[1] = fresh

	require.NoError(t, offer.Update(context.Background()))
	assert.Equal(t, StateAccepted, offer.State)
	assert.Equal(t, uint64(42), offer.TradeID)
	assert.Equal(t, testEpoch.Add(time.Minute).Unix(), offer.Updated.Unix())
	assert.Equal(t, "local", offer.Message, "non-volatile fields are kept")
	assert.Len(t, offer.ItemsToReceive, 1)
}

func TestOffer_UpdateReplacesGlitchedSnapshot(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})

	offer := m.offerFromWire(wireOffer(1, StateActive, testEpoch, false))
	require.True(t, offer.IsGlitched())

	fresh := wireOffer(1, StateActive, testEpoch, false, econ(730, 1), econ(730, 2))
	fresh.Message = "remote"
	remote.single[1] = fresh

	require.NoError(t, offer.Update(context.Background()))
	assert.False(t, offer.IsGlitched())
	assert.Equal(t, "remote", offer.Message)
	assert.Len(t, offer.ItemsToReceive, 2)
}

func TestOffer_CounterAndDuplicate(t *testing.T) {
	remote := newFakeRemote()
	remote.sendResult = &steam.SendOfferResult{ID: 20}
	m := newTestManager(t, remote, Options{})

	offer := m.offerFromWire(wireOffer(10, StateActive, testEpoch, false, econ(730, 1)))
	counter, err := offer.Counter()
	require.NoError(t, err)

	assert.Zero(t, counter.ID)
	assert.Equal(t, StateUnsent, counter.State)
	assert.True(t, counter.IsOurOffer)
	assert.Equal(t, uint64(10), counter.CounteringID)
	assert.Equal(t, offer.ItemsToReceive, counter.ItemsToReceive)

	counter.ItemsToReceive[0].AssetID = 99
	assert.Equal(t, uint64(1), offer.ItemsToReceive[0].AssetID, "items are copied")

	_, err = counter.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), remote.sent[0].CounteredID)

	offer.State = StateDeclined
	_, err = offer.Counter()
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestOffer_IsGlitched(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{Language: "english"})

	unsent, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)
	assert.False(t, unsent.IsGlitched(), "unsent offers are never glitched")

	empty := m.offerFromWire(wireOffer(1, StateActive, testEpoch, false))
	assert.True(t, empty.IsGlitched())

	unnamed := m.offerFromWire(wireOffer(2, StateActive, testEpoch, false, econ(730, 1)))
	assert.True(t, unnamed.IsGlitched())

	unnamed.ItemsToReceive[0].Name = "Key"
	assert.False(t, unnamed.IsGlitched())
}

func TestOffer_SetMessageTruncates(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{})
	offer, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)

	require.NoError(t, offer.SetMessage(strings.Repeat("é", 200)))
	assert.Equal(t, 128, len([]rune(offer.Message)))
}

func TestOffer_RemoveItems(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{})
	offer, err := m.CreateOffer(testPartner, "")
	require.NoError(t, err)

	n, err := offer.AddTheirItems([]Item{testItem(1), testItem(2), testItem(1)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	other := testItem(2)
	other.Amount = 5
	assert.True(t, offer.ContainsItem(other), "amount is not part of identity")

	n, err = offer.RemoveTheirItems([]Item{other, testItem(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Item{testItem(1)}, offer.ItemsToReceive)
}

func TestOffer_GetReceivedItems(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})

	active := m.offerFromWire(wireOffer(1, StateActive, testEpoch, false, econ(730, 1)))
	_, err := active.GetReceivedItems(context.Background())
	assert.ErrorIs(t, err, ErrNotAccepted)

	accepted := m.offerFromWire(wireOffer(2, StateAccepted, testEpoch, false, econ(730, 1)))
	_, err = accepted.GetReceivedItems(context.Background())
	assert.ErrorIs(t, err, ErrNoTradeID)

	accepted.TradeID = 321
	remote.receiptErr = steam.ErrReceiptMatch
	_, err = accepted.GetReceivedItems(context.Background())
	assert.ErrorIs(t, err, ErrDataUnavailable)

	remote.receiptErr = nil
	remote.receipt = []*steam.InventoryItem{{
		AppID: 730, ContextID: 2, AssetID: 1001, ClassID: 10, Amount: 1,
		Desc: &steam.EconItemDesc{ClassID: 10, Name: "Case"},
	}}
	items, err := accepted.GetReceivedItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, uint64(1001), items[0].AssetID)
	assert.Equal(t, "Case", items[0].Name)
}

func TestOffer_GetExchangeDetails(t *testing.T) {
	remote := newFakeRemote()
	remote.exchange = &steam.TradeExchange{
		TradeID:        321,
		Status:         int(TradeComplete),
		TimeInit:       testEpoch.Unix(),
		AssetsReceived: []*steam.EconItem{econ(730, 5)},
		AssetsGiven:    []*steam.EconItem{econ(730, 6), econ(730, 7)},
	}
	m := newTestManager(t, remote, Options{})

	offer := m.offerFromWire(wireOffer(2, StateAccepted, testEpoch, true, econ(730, 6), econ(730, 7)))
	_, err := offer.GetExchangeDetails(context.Background())
	assert.ErrorIs(t, err, ErrNoTradeID)

	offer.TradeID = 321
	details, err := offer.GetExchangeDetails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TradeComplete, details.Status)
	assert.True(t, details.Status.Settled())
	assert.Equal(t, testEpoch.Unix(), details.InitTime.Unix())
	assert.Len(t, details.Received, 1)
	assert.Len(t, details.Given, 2)
}

func TestOffer_GetUserDetails(t *testing.T) {
	remote := newFakeRemote()
	remote.escrow = &steam.EscrowSteamGuardInfo{MyName: "bot", ThemName: "alice", MyDays: 0, ThemDays: 15, ThemProbation: true}
	m := newTestManager(t, remote, Options{})

	offer, err := m.CreateOffer(testPartner, "tok")
	require.NoError(t, err)

	details, err := offer.GetUserDetails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserDetails{
		Me:   PartyDetails{PersonaName: "bot"},
		Them: PartyDetails{PersonaName: "alice", EscrowDays: 15, Probation: true},
	}, *details)
}

func TestManager_CreateOfferFromTradeURL(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{})

	offer, err := m.CreateOfferFromTradeURL("https://steamcommunity.com/tradeoffer/new/?partner=46143802&token=AbCd")
	require.NoError(t, err)
	assert.Equal(t, steam.SteamID(76561198006409530), offer.Partner)
	assert.Equal(t, "AbCd", offer.token)

	_, err = m.CreateOfferFromTradeURL("https://steamcommunity.com/tradeoffer/new/?token=AbCd")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestManager_GetOffersContainingItems(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{})
	remote.setOffers(
		[]*steam.TradeOffer{wireOffer(1, StateActive, testEpoch, true, econ(730, 1))},
		[]*steam.TradeOffer{wireOffer(2, StateActive, testEpoch, false, econ(730, 2))},
	)

	sent, received, err := m.GetOffersContainingItems(context.Background(), []Item{testItem(2)}, false)
	require.NoError(t, err)
	assert.Empty(t, sent)
	require.Len(t, received, 1)
	assert.Equal(t, uint64(2), received[0].ID)
}

func TestManager_SetPollDataCopies(t *testing.T) {
	m := newTestManager(t, newFakeRemote(), Options{})
	pd := NewPollData()
	pd.OfferData[1] = map[string]json.RawMessage{"k": json.RawMessage(`1`)}
	m.SetPollData(pd)

	pd.OfferData[1]["k"] = json.RawMessage(`2`)
	assert.JSONEq(t, `1`, string(m.PollData().OfferData[1]["k"]))
}
