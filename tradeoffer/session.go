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
	"time"

	"github.com/google/uuid"

	steam "github.com/zergu1ar/steamtrade"
)

const (
	commandTries     = 5
	chatTries        = 3
	statusTries      = 1
	maxStatusFailure = 5
)

var ErrNoSessionTransport = errors.New("no trade session transport configured")

// SessionHandlers receives trade session events. Handlers are called one at a
// time, in order, on a goroutine owned by the session, so they may issue
// session commands. Nil fields are ignored.
type SessionHandlers struct {
	ItemAdded   func(item Item)
	ItemRemoved func(item Item)
	Ready       func()
	Unready     func()
	Confirm     func()
	Chat        func(text string)
	// End fires once with the terminal status. tradeID is only set for
	// SessionTurnedIntoTradeOffer.
	End func(status SessionStatus, tradeID uint64)
	// Error fires once when the session dies on a fatal error, e.g. *DesyncError.
	Error func(err error)
}

// SessionItem is an item in a trade session. Pending items were added
// locally and not yet confirmed by an event.
type SessionItem struct {
	Item
	Pending bool
}

type SessionParty struct {
	PersonaName string
	EscrowDays  int
	Probation   bool
	Ready       bool
	Confirmed   bool
}

// SessionState is a snapshot of a trade session.
type SessionState struct {
	ID             string
	Partner        steam.SteamID
	ItemsToGive    []SessionItem
	ItemsToReceive []SessionItem
	Me             SessionParty
	Them           SessionParty
	LogPos         int
	Version        int
	UsedSlots      []int
	Ended          bool
	Status         SessionStatus
	TradeID        uint64
}

type command struct {
	name   string
	form   url.Values
	tries  int
	done   chan error
	onFail func(err error)
}

// TradeSession mirrors one live trade. Commands are sent one at a time; every
// status answer replays new events into the mirror and then checks the mirror
// against the snapshot carried by the answer. Any mismatch ends the session.
type TradeSession struct {
	id         string
	partner    steam.SteamID
	self       steam.SteamID
	transport  SessionTransport
	log        *slog.Logger
	handlers   SessionHandlers
	interval   time.Duration
	retryDelay time.Duration

	mine   *inventoryLoader
	theirs *inventoryLoader

	ctx    context.Context
	cancel context.CancelFunc

	commands *queue[*command]
	events   *queue[func()]
	done     chan struct{}

	mu             sync.Mutex
	itemsToGive    []SessionItem
	removing       []Item
	itemsToReceive []SessionItem
	me             SessionParty
	them           SessionParty
	logPos         int
	version        int
	usedSlots      []int
	myOrder        []ItemKey
	theirOrder     []ItemKey
	ended          bool
	status         SessionStatus
	tradeID        uint64
	statusFailures int
	pollInFlight   bool
	ignoreNextPoll bool
	resolving      int
	// events that arrived behind an item still being resolved, in log order
	backlog  []*steam.TradeSessionEvent
	snapshot *steam.TradeSessionStatus
}

// OpenTradeSession attaches to a trade already started with partner, e.g.
// through the Steam client.
func (m *Manager) OpenTradeSession(ctx context.Context, partner steam.SteamID, handlers SessionHandlers) (*TradeSession, error) {
	if m.opts.Sessions == nil {
		return nil, ErrNoSessionTransport
	}
	if !partner.IsValid() {
		return nil, ErrInvalidSteam
	}

	info, err := m.opts.Sessions.GetTradeWindow(ctx, partner)
	if err != nil {
		return nil, err
	}

	s := m.newTradeSession(partner, info, handlers)
	s.start()
	return s, nil
}

func (m *Manager) newTradeSession(partner steam.SteamID, info *steam.EscrowSteamGuardInfo, handlers SessionHandlers) *TradeSession {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	logger := m.log.With("session", id, "partner", partner.String())
	self := m.SteamID()

	s := &TradeSession{
		id:         id,
		partner:    partner,
		self:       self,
		transport:  m.opts.Sessions,
		log:        logger,
		handlers:   handlers,
		interval:   m.opts.SessionPollInterval,
		retryDelay: m.opts.RetryDelay,
		ctx:        ctx,
		cancel:     cancel,
		commands:   newQueue[*command](),
		events:     newQueue[func()](),
		done:       make(chan struct{}),
		version:    1,
	}
	if info != nil {
		s.me = SessionParty{PersonaName: info.MyName, EscrowDays: int(info.MyDays)}
		s.them = SessionParty{PersonaName: info.ThemName, EscrowDays: int(info.ThemDays), Probation: info.ThemProbation}
	}

	s.mine = newInventoryLoader(ctx, "our", func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
		return m.GetInventoryContents(ctx, appID, contextID, true)
	}, m.opts.RetryDelay, logger)
	s.theirs = newInventoryLoader(ctx, "partner", func(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
		if m.opts.Inventory == nil {
			return nil, ErrNoInventoryProvider
		}
		inv, err := m.opts.Inventory.GetForeignInventory(ctx, partner, appID, contextID)
		if err != nil {
			return nil, err
		}
		return itemsFromInventory(inv), nil
	}, m.opts.RetryDelay, logger)

	return s
}

func (s *TradeSession) start() {
	go s.dispatch()
	go s.commands.consume(s.runCommand)
	go s.pollLoop()
}

func (s *TradeSession) ID() string {
	return s.id
}

func (s *TradeSession) Partner() steam.SteamID {
	return s.partner
}

// Done is closed once the session has ended and every handler has returned.
func (s *TradeSession) Done() <-chan struct{} {
	return s.done
}

// Close stops the session locally without canceling the trade on Steam.
func (s *TradeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownLocked()
}

// State returns a snapshot of the mirror.
func (s *TradeSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		ID:             s.id,
		Partner:        s.partner,
		ItemsToGive:    slices.Clone(s.itemsToGive),
		ItemsToReceive: slices.Clone(s.itemsToReceive),
		Me:             s.me,
		Them:           s.them,
		LogPos:         s.logPos,
		Version:        s.version,
		UsedSlots:      slices.Clone(s.usedSlots),
		Ended:          s.ended,
		Status:         s.status,
		TradeID:        s.tradeID,
	}
}

// GetInventory loads our own tradable inventory through the session cache,
// which is also used to resolve our item-added events.
func (s *TradeSession) GetInventory(ctx context.Context, appID uint32, contextID uint64) ([]Item, error) {
	return s.mine.Load(ctx, appID, contextID)
}

// AddItem puts item into the trade. The mirror is updated right away with
// the item marked pending. A failed command ends the session.
func (s *TradeSession) AddItem(ctx context.Context, item Item) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.itemsToGive = append(s.itemsToGive, SessionItem{Item: item, Pending: true})
	s.mu.Unlock()

	return s.enqueue(ctx, &command{
		name:  "additem",
		form:  itemForm(item),
		tries: commandTries,
		onFail: func(err error) {
			s.fail(&SessionError{Msg: fmt.Sprintf("cannot add item %s to trade", item.Key()), Err: err})
		},
	})
}

// RemoveItem takes item out of the trade. A failed command ends the session.
func (s *TradeSession) RemoveItem(ctx context.Context, item Item) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if idx := indexOfSessionItem(s.itemsToGive, item.Key()); idx >= 0 {
		s.removing = append(s.removing, s.itemsToGive[idx].Item)
		s.itemsToGive = slices.Delete(s.itemsToGive, idx, idx+1)
	}
	s.mu.Unlock()

	return s.enqueue(ctx, &command{
		name:  "removeitem",
		form:  itemForm(item),
		tries: commandTries,
		onFail: func(err error) {
			s.fail(&SessionError{Msg: fmt.Sprintf("cannot remove item %s from trade", item.Key()), Err: err})
		},
	})
}

func (s *TradeSession) Ready(ctx context.Context) error {
	return s.enqueue(ctx, &command{name: "toggleready", form: url.Values{"ready": {"true"}}, tries: commandTries})
}

func (s *TradeSession) Unready(ctx context.Context) error {
	return s.enqueue(ctx, &command{name: "toggleready", form: url.Values{"ready": {"false"}}, tries: commandTries})
}

// Confirm confirms the trade. It has no effect unless both sides are ready.
func (s *TradeSession) Confirm(ctx context.Context) error {
	return s.enqueue(ctx, &command{name: "confirm", tries: commandTries})
}

func (s *TradeSession) Chat(ctx context.Context, msg string) error {
	return s.enqueue(ctx, &command{name: "chat", form: url.Values{"message": {msg}}, tries: chatTries})
}

// Cancel cancels the trade. End fires once Steam reports the new status.
func (s *TradeSession) Cancel(ctx context.Context) error {
	return s.enqueue(ctx, &command{name: "cancel", tries: commandTries})
}

func itemForm(item Item) url.Values {
	return url.Values{
		"appid":     {strconv.FormatUint(uint64(item.AppID), 10)},
		"contextid": {strconv.FormatUint(item.ContextID, 10)},
		"itemid":    {strconv.FormatUint(item.AssetID, 10)},
	}
}

// enqueue waits for cmd to run. If ctx ends first the command still runs.
func (s *TradeSession) enqueue(ctx context.Context, cmd *command) error {
	cmd.done = make(chan error, 1)
	if !s.commands.Push(cmd) {
		return ErrSessionEnded
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TradeSession) runCommand(cmd *command) {
	err := s.doCommand(cmd.name, cmd.form, cmd.tries)
	if err != nil && cmd.onFail != nil && !errors.Is(err, ErrSessionEnded) {
		cmd.onFail(err)
	}
	cmd.done <- err
}

// doCommand posts one command, retrying up to tries times. logpos, version
// and the item slot are taken at send time.
func (s *TradeSession) doCommand(name string, form url.Values, tries int) error {
	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(s.ctx, s.retryDelay); err != nil {
				return ErrSessionEnded
			}
		}

		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return ErrSessionEnded
		}
		args := url.Values{}
		for k, v := range form {
			args[k] = slices.Clone(v)
		}
		args.Set("logpos", strconv.Itoa(s.logPos))
		args.Set("version", strconv.Itoa(s.version))
		if name == "additem" {
			args.Set("slot", strconv.Itoa(s.nextSlotLocked()))
		}
		s.mu.Unlock()

		status, err := s.transport.PostTradeCommand(s.ctx, s.partner, name, args)
		if err != nil {
			s.log.Debug("trade command failed", "command", name, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		s.handleStatus(status, name == "tradestatus")
		return nil
	}
	return lastErr
}

func (s *TradeSession) pollLoop() {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		s.pollStatus()
		timer.Reset(s.interval)
	}
}

// pollStatus fetches the trade status once. Five failures in a row end the
// session as timed out.
func (s *TradeSession) pollStatus() {
	s.mu.Lock()
	if s.ended || s.pollInFlight {
		s.mu.Unlock()
		return
	}
	s.pollInFlight = true
	s.mu.Unlock()

	err := s.doCommand("tradestatus", nil, statusTries)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInFlight = false
	if s.ended {
		return
	}
	if err == nil {
		s.statusFailures = 0
		return
	}
	s.ignoreNextPoll = false
	s.statusFailures++
	if s.statusFailures >= maxStatusFailure {
		s.log.Debug("trade status keeps failing", "failures", s.statusFailures, "error", err)
		s.endLocked(SessionTimedOut, 0)
	}
}

func (s *TradeSession) handleStatus(status *steam.TradeSessionStatus, fromPoll bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || status == nil || !status.Success {
		return
	}
	if fromPoll {
		if s.ignoreNextPoll {
			// a command answered while this poll was in flight, so it is stale
			s.ignoreNextPoll = false
			s.log.Debug("dropping stale trade status")
			return
		}
	} else if s.pollInFlight {
		s.ignoreNextPoll = true
	}

	st := SessionStatus(status.TradeStatus)
	switch {
	case st < SessionActive || st > SessionTurnedIntoTradeOffer:
		s.failLocked(fmt.Errorf("%w: %d", ErrUnknownSessionStatus, status.TradeStatus))
		return
	case st == SessionTurnedIntoTradeOffer:
		s.endLocked(st, status.TradeID)
		return
	case st != SessionActive:
		s.endLocked(st, 0)
		return
	}

	if status.Me != nil && status.Me.Assets != nil {
		s.usedSlots = status.Me.Slots()
	}
	if status.Me != nil && status.Them != nil {
		if status.Me.Assets != nil {
			s.myOrder = assetKeys(status.Me)
		}
		if status.Them.Assets != nil {
			s.theirOrder = assetKeys(status.Them)
		}
	}

	for _, key := range status.EventKeys() {
		if key < s.logPos {
			s.log.Debug("ignoring trade event", "event", key, "logpos", s.logPos)
			continue
		}
		s.logPos = key + 1
		if s.resolving > 0 || len(s.backlog) > 0 {
			s.backlog = append(s.backlog, status.Events[key])
			continue
		}
		s.applyEventLocked(status.Events[key])
		if s.ended {
			return
		}
	}

	if status.Version > s.version {
		s.log.Debug("new trade version", "version", status.Version, "had", s.version)
		s.version = status.Version
	}

	if status.Me != nil && status.Them != nil {
		s.snapshot = status
		if err := s.checkSyncLocked(status); err != nil {
			s.failLocked(err)
		}
	}
}

func (s *TradeSession) applyEventLocked(ev *steam.TradeSessionEvent) {
	if ev == nil {
		return
	}
	isUs := steam.SteamID(ev.SteamID) == s.self
	action := SessionAction(ev.Action)
	key := ItemKey{AppID: ev.AppID, ContextID: uint64(ev.ContextID), AssetID: uint64(ev.AssetID)}
	s.log.Debug("handling trade event", "action", action, "us", isUs)

	switch action {
	case ActionAddItem:
		s.me.Ready = false
		s.them.Ready = false

		loader := s.theirs
		if isUs {
			loader = s.mine
		}
		if inv, ok := loader.cached(key.AppID, key.ContextID); ok {
			s.itemAddedLocked(isUs, inv, key)
			return
		}
		s.resolving++
		go s.resolve(isUs, loader, key)

	case ActionRemoveItem:
		s.me.Ready = false
		s.them.Ready = false

		list := &s.itemsToReceive
		if isUs {
			list = &s.itemsToGive
		}
		*list = slices.DeleteFunc(*list, func(it SessionItem) bool {
			if it.Key() != key {
				return false
			}
			if !isUs {
				item := it.Item
				s.emit(func() { s.handlers.itemRemoved(item) })
			}
			return true
		})
		if isUs {
			if idx := indexOfItemKey(s.removing, key); idx >= 0 {
				s.removing = slices.Delete(s.removing, idx, idx+1)
			}
		}

	case ActionReady:
		if isUs {
			s.me.Ready = true
		} else {
			s.them.Ready = true
			s.emit(s.handlers.ready)
		}

	case ActionUnready:
		if isUs {
			s.me.Ready = false
		} else {
			s.them.Ready = false
			s.emit(s.handlers.unready)
		}

	case ActionConfirm:
		if isUs {
			s.me.Confirmed = true
		} else {
			s.them.Confirmed = true
			s.emit(s.handlers.confirm)
		}

	case ActionChat:
		if !isUs {
			text := ev.Text
			s.emit(func() { s.handlers.chat(text) })
		}

	default:
		s.log.Debug("unknown trade event", "action", action)
	}
}

func (s *TradeSession) resolve(isUs bool, loader *inventoryLoader, key ItemKey) {
	inv, err := loader.Load(s.ctx, key.AppID, key.ContextID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving--
	if s.ended {
		return
	}
	if err != nil {
		s.failLocked(&SessionError{Msg: fmt.Sprintf("cannot get %s inventory", loader.owner), Err: err})
		return
	}
	s.itemAddedLocked(isUs, inv, key)
	s.drainBacklogLocked()

	// the snapshot could not be checked in full while events were held back
	if s.ended || s.resolving > 0 || len(s.backlog) > 0 || s.snapshot == nil {
		return
	}
	if err := s.checkSyncLocked(s.snapshot); err != nil {
		s.failLocked(err)
	}
}

// drainBacklogLocked applies held back events in order until one of them
// starts another inventory lookup.
func (s *TradeSession) drainBacklogLocked() {
	for len(s.backlog) > 0 && s.resolving == 0 && !s.ended {
		ev := s.backlog[0]
		s.backlog[0] = nil
		s.backlog = s.backlog[1:]
		s.applyEventLocked(ev)
	}
}

func (s *TradeSession) itemAddedLocked(isUs bool, inv []Item, key ItemKey) {
	idx := slices.IndexFunc(inv, func(it Item) bool { return it.Key() == key })
	if idx < 0 {
		owner := "partner's"
		if isUs {
			owner = "our"
		}
		s.failLocked(&SessionError{Msg: fmt.Sprintf("could not find item %s in %s inventory even though it was added to the trade", key, owner)})
		return
	}
	item := inv[idx]

	if isUs {
		if i := indexOfSessionItem(s.itemsToGive, key); i >= 0 {
			s.itemsToGive[i].Pending = false
			return
		}
		s.itemsToGive = append(s.itemsToGive, SessionItem{Item: item})
		s.fixAssetOrderLocked()
		return
	}

	if indexOfSessionItem(s.itemsToReceive, key) >= 0 {
		return
	}
	s.itemsToReceive = append(s.itemsToReceive, SessionItem{Item: item})
	s.fixAssetOrderLocked()
	s.emit(func() { s.handlers.itemAdded(item) })
}

// fixAssetOrderLocked sorts both item lists into trade slot order. Items the
// last snapshot did not know yet keep their relative order at the end.
func (s *TradeSession) fixAssetOrderLocked() {
	s.itemsToGive = orderItems(s.itemsToGive, s.myOrder)
	s.itemsToReceive = orderItems(s.itemsToReceive, s.theirOrder)
}

func orderItems(items []SessionItem, order []ItemKey) []SessionItem {
	out := make([]SessionItem, 0, len(items))
	used := make([]bool, len(items))
	for _, key := range order {
		if idx := indexOfSessionItem(items, key); idx >= 0 && !used[idx] {
			used[idx] = true
			out = append(out, items[idx])
		}
	}
	for idx, it := range items {
		if !used[idx] {
			out = append(out, it)
		}
	}
	return out
}

// checkSyncLocked compares the mirror with the snapshot of status. The item
// sets are skipped while an item-added event is still being resolved, and
// nothing is compared while later events wait behind it. resolve checks the
// latest snapshot again once the mirror has caught up.
func (s *TradeSession) checkSyncLocked(status *steam.TradeSessionStatus) error {
	if len(s.backlog) > 0 {
		return nil
	}

	sides := []struct {
		who    string
		local  *SessionParty
		remote *steam.TradeSessionUser
	}{
		{"me", &s.me, status.Me},
		{"them", &s.them, status.Them},
	}

	for _, side := range sides {
		if side.local.Ready != bool(side.remote.Ready) {
			return desync(side.who, "ready", side.local.Ready, bool(side.remote.Ready))
		}
	}
	for _, side := range sides {
		if side.local.Confirmed != bool(side.remote.Confirmed) {
			return desync(side.who, "confirmed", side.local.Confirmed, bool(side.remote.Confirmed))
		}
	}

	if s.resolving > 0 {
		return nil
	}

	for _, side := range sides {
		if side.remote.Assets == nil {
			continue
		}

		var local []ItemKey
		if side.who == "me" {
			local = settledKeys(s.itemsToGive)
			// removals still queued are on the remote list until their event arrives
			for _, it := range s.removing {
				local = append(local, it.Key())
			}
		} else {
			local = settledKeys(s.itemsToReceive)
		}

		remote := assetKeys(side.remote)
		if len(local) != len(remote) {
			return &DesyncError{Who: side.who, Field: "asset count", Local: strconv.Itoa(len(local)), Remote: strconv.Itoa(len(remote))}
		}
		for _, key := range local {
			if !slices.Contains(remote, key) {
				return &DesyncError{Who: side.who, Field: "asset", Local: key.String(), Remote: "nothing"}
			}
		}
	}
	return nil
}

func desync(who, field string, local, remote bool) *DesyncError {
	return &DesyncError{Who: who, Field: field, Local: strconv.FormatBool(local), Remote: strconv.FormatBool(remote)}
}

func (s *TradeSession) nextSlotLocked() int {
	for slot := 0; ; slot++ {
		if !slices.Contains(s.usedSlots, slot) {
			return slot
		}
	}
}

func (s *TradeSession) emit(fn func()) {
	s.events.Push(fn)
}

func (s *TradeSession) dispatch() {
	s.events.consume(func(fn func()) { fn() })
	close(s.done)
}

func (s *TradeSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(err)
}

func (s *TradeSession) failLocked(err error) {
	if s.ended {
		return
	}
	s.log.Warn("trade session failed", "error", err)
	s.status = SessionFailed
	s.emit(func() { s.handlers.fatal(err) })
	s.shutdownLocked()
}

func (s *TradeSession) endLocked(status SessionStatus, tradeID uint64) {
	if s.ended {
		return
	}
	s.log.Debug("trade session ended", "status", status, "tradeid", tradeID)
	s.status = status
	s.tradeID = tradeID
	s.emit(func() { s.handlers.end(status, tradeID) })
	s.shutdownLocked()
}

// shutdownLocked stops the poll, abandons queued commands and lets the
// dispatcher drain.
func (s *TradeSession) shutdownLocked() {
	s.ended = true
	s.cancel()
	s.commands.Close()
	s.events.Close()
}

func assetKeys(u *steam.TradeSessionUser) []ItemKey {
	assets := u.OrderedAssets()
	keys := make([]ItemKey, 0, len(assets))
	for _, a := range assets {
		if a == nil {
			continue
		}
		keys = append(keys, ItemKey{AppID: a.AppID, ContextID: uint64(a.ContextID), AssetID: uint64(a.AssetID)})
	}
	return keys
}

func settledKeys(items []SessionItem) []ItemKey {
	keys := make([]ItemKey, 0, len(items))
	for _, it := range items {
		if !it.Pending {
			keys = append(keys, it.Key())
		}
	}
	return keys
}

func indexOfSessionItem(items []SessionItem, key ItemKey) int {
	return slices.IndexFunc(items, func(it SessionItem) bool { return it.Key() == key })
}

func indexOfItemKey(items []Item, key ItemKey) int {
	return slices.IndexFunc(items, func(it Item) bool { return it.Key() == key })
}

func (h *SessionHandlers) itemAdded(item Item) {
	if h.ItemAdded != nil {
		h.ItemAdded(item)
	}
}

func (h *SessionHandlers) itemRemoved(item Item) {
	if h.ItemRemoved != nil {
		h.ItemRemoved(item)
	}
}

func (h *SessionHandlers) ready() {
	if h.Ready != nil {
		h.Ready()
	}
}

func (h *SessionHandlers) unready() {
	if h.Unready != nil {
		h.Unready()
	}
}

func (h *SessionHandlers) confirm() {
	if h.Confirm != nil {
		h.Confirm()
	}
}

func (h *SessionHandlers) chat(text string) {
	if h.Chat != nil {
		h.Chat(text)
	}
}

func (h *SessionHandlers) end(status SessionStatus, tradeID uint64) {
	if h.End != nil {
		h.End(status, tradeID)
	}
}

func (h *SessionHandlers) fatal(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
