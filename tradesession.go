package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// TradeSessionAsset is an item placed in a real-time trade.
type TradeSessionAsset struct {
	AppID     uint32   `json:"appid"`
	ContextID FlexUint `json:"contextid"`
	AssetID   FlexUint `json:"assetid"`
	Amount    FlexUint `json:"amount"`
}

// TradeSessionUser is one side of a trade status snapshot. Assets are keyed
// by trade slot.
type TradeSessionUser struct {
	Ready             FlexBool
	Confirmed         FlexBool
	SecSinceTouch     int
	ConnectionPending bool
	Assets            map[int]*TradeSessionAsset
}

func (u *TradeSessionUser) UnmarshalJSON(b []byte) error {
	var raw struct {
		Ready             FlexBool        `json:"ready"`
		Confirmed         FlexBool        `json:"confirmed"`
		SecSinceTouch     int             `json:"sec_since_touch"`
		ConnectionPending bool            `json:"connection_pending"`
		Assets            json.RawMessage `json:"assets"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	assets, err := decodeKeyed[TradeSessionAsset](raw.Assets)
	if err != nil {
		return err
	}

	*u = TradeSessionUser{
		Ready:             raw.Ready,
		Confirmed:         raw.Confirmed,
		SecSinceTouch:     raw.SecSinceTouch,
		ConnectionPending: raw.ConnectionPending,
		Assets:            assets,
	}
	return nil
}

// OrderedAssets returns the assets sorted by slot.
func (u *TradeSessionUser) OrderedAssets() []*TradeSessionAsset {
	if u == nil {
		return nil
	}
	out := make([]*TradeSessionAsset, 0, len(u.Assets))
	for _, k := range sortedKeys(u.Assets) {
		out = append(out, u.Assets[k])
	}
	return out
}

// Slots returns the occupied slot numbers in ascending order.
func (u *TradeSessionUser) Slots() []int {
	if u == nil {
		return nil
	}
	return sortedKeys(u.Assets)
}

type TradeSessionEvent struct {
	SteamID   FlexUint `json:"steamid"`
	Action    FlexUint `json:"action"`
	Timestamp int64    `json:"timestamp"`
	AppID     uint32   `json:"appid"`
	ContextID FlexUint `json:"contextid"`
	AssetID   FlexUint `json:"assetid"`
	Amount    FlexUint `json:"amount"`
	Text      string   `json:"text"`
}

// TradeSessionStatus is the body of every trade session command response.
type TradeSessionStatus struct {
	Success     bool
	TradeStatus int
	TradeID     uint64
	Version     int
	LogPos      int
	Me          *TradeSessionUser
	Them        *TradeSessionUser
	Events      map[int]*TradeSessionEvent
}

func (s *TradeSessionStatus) UnmarshalJSON(b []byte) error {
	var raw struct {
		Success     bool              `json:"success"`
		TradeStatus int               `json:"trade_status"`
		TradeID     FlexUint          `json:"tradeid"`
		Version     int               `json:"version"`
		LogPos      int               `json:"logpos"`
		Me          *TradeSessionUser `json:"me"`
		Them        *TradeSessionUser `json:"them"`
		Events      json.RawMessage   `json:"events"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	events, err := decodeKeyed[TradeSessionEvent](raw.Events)
	if err != nil {
		return err
	}

	*s = TradeSessionStatus{
		Success:     raw.Success,
		TradeStatus: raw.TradeStatus,
		TradeID:     uint64(raw.TradeID),
		Version:     raw.Version,
		LogPos:      raw.LogPos,
		Me:          raw.Me,
		Them:        raw.Them,
		Events:      events,
	}
	return nil
}

// EventKeys returns the event sequence numbers in ascending order.
func (s *TradeSessionStatus) EventKeys() []int {
	return sortedKeys(s.Events)
}

// PostTradeCommand posts one trade session command (tradestatus, additem,
// toggleready, ...) and returns the status snapshot carried by the answer.
func (c *Client) PostTradeCommand(ctx context.Context, partner SteamID, command string, form url.Values) (*TradeSessionStatus, error) {
	if form == nil {
		form = url.Values{}
	}

	base := fmt.Sprintf("/trade/%d", uint64(partner))
	var status TradeSessionStatus
	err := c.postCommunity(ctx, base+"/"+command+"/", form, c.community(base), &status)
	if err != nil {
		var tradeErr *TradeError
		if errors.As(err, &tradeErr) {
			return nil, err
		}
		return nil, fmt.Errorf("trade command %s: %w", command, err)
	}
	if !status.Success {
		return nil, ErrNoSuccess
	}

	return &status, nil
}

// GetTradeWindow reads persona names and escrow days from a live trade window.
func (c *Client) GetTradeWindow(ctx context.Context, partner SteamID) (*EscrowSteamGuardInfo, error) {
	body, err := c.getPage(ctx, c.community(fmt.Sprintf("/trade/%d", uint64(partner))))
	if err != nil {
		return nil, err
	}

	info, err := parseTradePage(body)
	if err != nil {
		return nil, err
	}
	if info.ErrorMsg != "" {
		return nil, errors.New(info.ErrorMsg)
	}

	return info, nil
}
