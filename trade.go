package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	TradeStateNone = iota
	TradeStateInvalid
	TradeStateActive
	TradeStateAccepted
	TradeStateCountered
	TradeStateExpired
	TradeStateCanceled
	TradeStateDeclined
	TradeStateInvalidItems
	TradeStateCreatedNeedsConfirmation
	TradeStateCanceledByTwoFactor
	TradeStateInEscrow
)

const (
	TradeConfirmationNone = iota
	TradeConfirmationEmail
	TradeConfirmationMobileApp
)

const (
	TradeFilterNone             = 0
	TradeFilterSentOffers       = 1 << 0
	TradeFilterRecvOffers       = 1 << 1
	TradeFilterActiveOnly       = 1 << 3
	TradeFilterHistoricalOnly   = 1 << 4
	TradeFilterItemDescriptions = 1 << 5
)

var (
	myEscrowExp    = regexp.MustCompile(`var g_daysMyEscrow = (\d+);`)
	themEscrowExp  = regexp.MustCompile(`var g_daysTheirEscrow = (\d+);`)
	myNameExp      = regexp.MustCompile(`var g_strYourPersonaName = "((?:[^"\\]|\\.)*)";`)
	themNameExp    = regexp.MustCompile(`var g_strTradePartnerPersonaName = "((?:[^"\\]|\\.)*)";`)
	probationExp   = regexp.MustCompile(`var g_bTradePartnerProbation = (true|false);`)
	offerInfoExp   = regexp.MustCompile(`token=([a-zA-Z0-9-_]+)`)
	notLoggedInExp = regexp.MustCompile(`\{"success": ?false\}`)
)

type EconItem struct {
	AssetID    FlexUint `json:"assetid,omitempty"`
	InstanceID FlexUint `json:"instanceid,omitempty"`
	ClassID    FlexUint `json:"classid,omitempty"`
	AppID      uint32   `json:"appid"`
	ContextID  FlexUint `json:"contextid"`
	Amount     FlexUint `json:"amount"`
	Missing    bool     `json:"missing,omitempty"`
}

type EconDesc struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Color string `json:"color"`
}

type EconTag struct {
	InternalName string `json:"internal_name"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	CategoryName string `json:"category_name"`
}

type EconAction struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

type EconItemDesc struct {
	AppID           uint32        `json:"appid"`
	ClassID         FlexUint      `json:"classid"`
	InstanceID      FlexUint      `json:"instanceid"`
	Tradable        FlexBool      `json:"tradable"`
	Marketable      FlexBool      `json:"marketable"`
	BackgroundColor string        `json:"background_color"`
	IconURL         string        `json:"icon_url"`
	IconLargeURL    string        `json:"icon_url_large"`
	IconDragURL     string        `json:"icon_drag_url"`
	Name            string        `json:"name"`
	NameColor       string        `json:"name_color"`
	MarketName      string        `json:"market_name"`
	MarketHashName  string        `json:"market_hash_name"`
	Type            string        `json:"type"`
	Comodity        FlexBool      `json:"commodity"`
	Actions         []*EconAction `json:"actions"`
	Tags            []*EconTag    `json:"tags"`
	Descriptions    []*EconDesc   `json:"descriptions"`
}

type TradeOfferResponse struct {
	Offer          *TradeOffer     `json:"offer"`
	SentOffers     []*TradeOffer   `json:"trade_offers_sent"`
	ReceivedOffers []*TradeOffer   `json:"trade_offers_received"`
	Descriptions   []*EconItemDesc `json:"descriptions"`
}

type APIResponse struct {
	Inner *TradeOfferResponse `json:"response"`
}

func (c *Client) GetTradeOffer(ctx context.Context, id uint64) (*TradeOfferResponse, error) {
	var response APIResponse
	err := c.apiCall(ctx, http.MethodGet, "IEconService", "GetTradeOffer", "v1", url.Values{
		"tradeofferid": {strconv.FormatUint(id, 10)},
		"language":     {c.language},
	}, &response)
	if err != nil {
		return nil, err
	}
	if response.Inner == nil {
		return nil, ErrMalformedResponse
	}

	return response.Inner, nil
}

func testBit(bits uint32, bit uint32) bool {
	return (bits & bit) == bit
}

// GetTradeOffers lists offers. With TradeFilterActiveOnly and a non-zero
// timeCutOff, offers updated since the cutoff are also returned.
func (c *Client) GetTradeOffers(ctx context.Context, filter uint32, timeCutOff time.Time) (*TradeOfferResponse, error) {
	params := url.Values{}
	if testBit(filter, TradeFilterSentOffers) {
		params.Set("get_sent_offers", "1")
	}

	if testBit(filter, TradeFilterRecvOffers) {
		params.Set("get_received_offers", "1")
	}

	if testBit(filter, TradeFilterActiveOnly) {
		params.Set("active_only", "1")
	}

	if testBit(filter, TradeFilterItemDescriptions) {
		params.Set("get_descriptions", "1")
		params.Set("language", c.language)
	}

	if testBit(filter, TradeFilterHistoricalOnly) {
		params.Set("historical_only", "1")
	}

	if !timeCutOff.IsZero() {
		params.Set("time_historical_cutoff", strconv.FormatInt(timeCutOff.Unix(), 10))
	}

	var response APIResponse
	if err := c.apiCall(ctx, http.MethodGet, "IEconService", "GetTradeOffers", "v1", params, &response); err != nil {
		return nil, err
	}
	if response.Inner == nil {
		return nil, ErrMalformedResponse
	}

	return response.Inner, nil
}

func (c *Client) getPage(ctx context.Context, uri string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, uri, nil, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) GetMyTradeToken(ctx context.Context) (string, error) {
	body, err := c.getPage(ctx, c.community("/my/tradeoffers/privacy"))
	if err != nil {
		return "", err
	}

	m := offerInfoExp.FindStringSubmatch(string(body))
	if len(m) != 2 {
		return "", CannotFindTradeOfferInfoError
	}

	return m[1], nil
}

type EscrowSteamGuardInfo struct {
	MyDays        int64
	ThemDays      int64
	MyName        string
	ThemName      string
	ThemProbation bool
	ErrorMsg      string
}

// GetEscrowGuardInfo reads escrow days and persona names from an offer page.
// offerID 0 opens the new offer page for sid with token.
func (c *Client) GetEscrowGuardInfo(ctx context.Context, sid SteamID, token string, offerID uint64) (*EscrowSteamGuardInfo, error) {
	uri := c.community(fmt.Sprintf("/tradeoffer/%d/", offerID))
	if offerID == 0 {
		params := url.Values{"partner": {strconv.FormatUint(uint64(sid.GetAccountID()), 10)}}
		if token != "" {
			params.Set("token", token)
		}
		uri = c.community("/tradeoffer/new/?" + params.Encode())
	}

	body, err := c.getPage(ctx, uri)
	if err != nil {
		return nil, err
	}

	return parseTradePage(body)
}

func parseTradePage(body []byte) (*EscrowSteamGuardInfo, error) {
	info := &EscrowSteamGuardInfo{}
	page := string(body)

	if m := myEscrowExp.FindStringSubmatch(page); len(m) == 2 {
		info.MyDays, _ = strconv.ParseInt(m[1], 10, 32)
	}
	if m := themEscrowExp.FindStringSubmatch(page); len(m) == 2 {
		info.ThemDays, _ = strconv.ParseInt(m[1], 10, 32)
	}
	if m := myNameExp.FindStringSubmatch(page); len(m) == 2 {
		info.MyName = unquoteJS(m[1])
	}
	if m := themNameExp.FindStringSubmatch(page); len(m) == 2 {
		info.ThemName = unquoteJS(m[1])
	}
	if m := probationExp.FindStringSubmatch(page); len(m) == 2 {
		info.ThemProbation = m[1] == "true"
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	info.ErrorMsg = strings.TrimSpace(doc.Find("#error_msg").Text())

	return info, nil
}

func unquoteJS(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// postCommunity posts a form to a steamcommunity.com endpoint and decodes the
// JSON answer. A strError in the body is returned as *TradeError.
func (c *Client) postCommunity(ctx context.Context, path string, form url.Values, referer string, out interface{}) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNotLoggedIn
	}
	form.Set("sessionid", sessionID)

	req, err := c.newRequest(ctx, http.MethodPost, c.community(path), form, referer)
	if err != nil {
		return err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrNotLoggedIn
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var se struct {
		StrError string `json:"strError"`
	}
	if json.Unmarshal(body, &se) == nil && se.StrError != "" {
		return NewTradeError(se.StrError)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}

	if len(body) == 0 {
		return ErrMalformedResponse
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return ErrMalformedResponse
		}
	}
	return nil
}

// SendOfferRequest describes a new offer.
type SendOfferRequest struct {
	Partner     SteamID
	Token       string
	Message     string
	SendItems   []*EconItem
	RecvItems   []*EconItem
	CounteredID uint64
}

type SendOfferResult struct {
	ID                         uint64
	MobileConfirmationRequired bool
	EmailConfirmationRequired  bool
	EmailDomain                string
}

func (c *Client) SendTradeOffer(ctx context.Context, offer *SendOfferRequest) (*SendOfferResult, error) {
	content := map[string]interface{}{
		"newversion": true,
		"version":    len(offer.SendItems) + len(offer.RecvItems) + 1,
		"me": map[string]interface{}{
			"assets":   assetsForSend(offer.SendItems),
			"currency": make([]struct{}, 0),
			"ready":    false,
		},
		"them": map[string]interface{}{
			"assets":   assetsForSend(offer.RecvItems),
			"currency": make([]struct{}, 0),
			"ready":    false,
		},
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	params := map[string]string{}
	if offer.Token != "" {
		params["trade_offer_access_token"] = offer.Token
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"serverid":                  {"1"},
		"partner":                   {offer.Partner.ToString()},
		"tradeoffermessage":         {offer.Message},
		"json_tradeoffer":           {string(contentJSON)},
		"captcha":                   {""},
		"trade_offer_create_params": {string(paramsJSON)},
	}
	if offer.CounteredID != 0 {
		form.Set("tradeofferid_countered", strconv.FormatUint(offer.CounteredID, 10))
	}

	referer := url.Values{"partner": {strconv.FormatUint(uint64(offer.Partner.GetAccountID()), 10)}}
	if offer.Token != "" {
		referer.Set("token", offer.Token)
	}

	var response struct {
		ID                         FlexUint `json:"tradeofferid"`
		MobileConfirmationRequired bool     `json:"needs_mobile_confirmation"`
		EmailConfirmationRequired  bool     `json:"needs_email_confirmation"`
		EmailDomain                string   `json:"email_domain"`
	}
	err = c.postCommunity(ctx, "/tradeoffer/new/send", form, c.community("/tradeoffer/new/?"+referer.Encode()), &response)
	if err != nil {
		return nil, err
	}

	if response.ID == 0 {
		return nil, fmt.Errorf("no offer id included: %w", ErrMalformedResponse)
	}

	return &SendOfferResult{
		ID:                         uint64(response.ID),
		MobileConfirmationRequired: response.MobileConfirmationRequired,
		EmailConfirmationRequired:  response.EmailConfirmationRequired,
		EmailDomain:                response.EmailDomain,
	}, nil
}

func assetsForSend(items []*EconItem) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		amount := uint64(item.Amount)
		if amount == 0 {
			amount = 1
		}
		out = append(out, map[string]interface{}{
			"appid":     item.AppID,
			"contextid": strconv.FormatUint(uint64(item.ContextID), 10),
			"amount":    amount,
			"assetid":   strconv.FormatUint(uint64(item.AssetID), 10),
		})
	}
	return out
}

func (c *Client) DeclineTradeOffer(ctx context.Context, id uint64) error {
	err := c.apiCall(ctx, http.MethodPost, "IEconService", "DeclineTradeOffer", "v1", url.Values{
		"tradeofferid": {strconv.FormatUint(id, 10)},
	}, nil)
	if err != nil {
		return fmt.Errorf("cannot decline trade: %w", err)
	}
	return nil
}

func (c *Client) CancelTradeOffer(ctx context.Context, id uint64) error {
	err := c.apiCall(ctx, http.MethodPost, "IEconService", "CancelTradeOffer", "v1", url.Values{
		"tradeofferid": {strconv.FormatUint(id, 10)},
	}, nil)
	if err != nil {
		return fmt.Errorf("cannot cancel trade: %w", err)
	}
	return nil
}

type AcceptResult struct {
	TradeID                    uint64
	MobileConfirmationRequired bool
	EmailConfirmationRequired  bool
}

func (c *Client) AcceptTradeOffer(ctx context.Context, id uint64, partner SteamID) (*AcceptResult, error) {
	tid := strconv.FormatUint(id, 10)
	postURL := "/tradeoffer/" + tid

	var response struct {
		TradeID                    FlexUint `json:"tradeid"`
		MobileConfirmationRequired bool     `json:"needs_mobile_confirmation"`
		EmailConfirmationRequired  bool     `json:"needs_email_confirmation"`
	}
	err := c.postCommunity(ctx, postURL+"/accept", url.Values{
		"serverid":     {"1"},
		"tradeofferid": {tid},
		"partner":      {partner.ToString()},
		"captcha":      {""},
	}, c.community(postURL+"/"), &response)
	if err != nil {
		return nil, err
	}

	return &AcceptResult{
		TradeID:                    uint64(response.TradeID),
		MobileConfirmationRequired: response.MobileConfirmationRequired,
		EmailConfirmationRequired:  response.EmailConfirmationRequired,
	}, nil
}

// TradeExchange is the result of IEconService/GetTradeStatus.
type TradeExchange struct {
	TradeID        FlexUint    `json:"tradeid"`
	Status         int         `json:"status"`
	TimeInit       int64       `json:"time_init"`
	AssetsReceived []*EconItem `json:"assets_received"`
	AssetsGiven    []*EconItem `json:"assets_given"`
}

func (c *Client) GetTradeStatus(ctx context.Context, tradeID uint64) (*TradeExchange, error) {
	var response struct {
		Response *struct {
			Trades []*TradeExchange `json:"trades"`
		} `json:"response"`
	}
	err := c.apiCall(ctx, http.MethodGet, "IEconService", "GetTradeStatus", "v1", url.Values{
		"tradeid": {strconv.FormatUint(tradeID, 10)},
	}, &response)
	if err != nil {
		return nil, err
	}
	if response.Response == nil || response.Response.Trades == nil {
		return nil, ErrMalformedResponse
	}
	if len(response.Response.Trades) == 0 || uint64(response.Response.Trades[0].TradeID) != tradeID {
		return nil, fmt.Errorf("trade %d not found in GetTradeStatus response", tradeID)
	}
	return response.Response.Trades[0], nil
}
