package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	AnswerAllow = "allow"
	AnswerDeny  = "deny"
)

var ErrNoIdentitySecret = errors.New("identity secret is required for confirmations")

type Confirmation struct {
	ID        uint64
	Key       uint64
	Title     string
	Receiving string
	Since     string
	OfferID   uint64
}

func (confirmation *Confirmation) Answer(ctx context.Context, client *Client, answer string) error {
	return client.AnswerConfirmation(ctx, confirmation, answer)
}

type ConfirmationAnswerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// confirmationReqWorker serialises mobileconf requests, spacing them by delay seconds.
func (c *Client) confirmationReqWorker(delay int64) {
	for {
		select {
		case req := <-c.requestQueue["confirmation"]:
			req.ResponseChan <- c.execConfirmationRequest(req.Url, req.Params, req.Values)
			time.Sleep(time.Second * time.Duration(delay))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) enqueueConfirmation(ctx context.Context, req RequestItem) RequestResponse {
	c.startWorkers()

	select {
	case c.requestQueue["confirmation"] <- req:
	case <-ctx.Done():
		return RequestResponse{Error: ctx.Err()}
	case <-c.ctx.Done():
		return RequestResponse{Error: c.ctx.Err()}
	}

	select {
	case resp := <-req.ResponseChan:
		return resp
	case <-ctx.Done():
		return RequestResponse{Error: ctx.Err()}
	}
}

func (c *Client) GetConfirmations(ctx context.Context) ([]*Confirmation, error) {
	resp := c.enqueueConfirmation(ctx, RequestItem{
		Url: "conf?",
		Params: url.Values{
			"tag": {"conf"},
		},
		ResponseChan: make(chan RequestResponse, 1),
	})
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Status != http.StatusOK {
		return nil, &APIError{Status: resp.Status}
	}

	return parseConfirmations(resp.Body)
}

func parseConfirmations(body []byte) ([]*Confirmation, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	confirmations := make([]*Confirmation, 0)
	if doc.Find("#mobileconf_empty").Length() > 0 {
		return confirmations, nil
	}

	entries := doc.Find(".mobileconf_list_entry")
	if entries.Length() == 0 {
		return nil, ConfirmationsNotFoundError
	}

	var parseErr error
	entries.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		confirmation := &Confirmation{}
		confirmation.ID, _ = strconv.ParseUint(sel.AttrOr("data-confid", ""), 10, 64)
		confirmation.Key, _ = strconv.ParseUint(sel.AttrOr("data-key", ""), 10, 64)
		confirmation.OfferID, _ = strconv.ParseUint(sel.AttrOr("data-creator", ""), 10, 64)

		desc := sel.Find(".mobileconf_list_entry_description")
		if desc.Length() == 0 {
			parseErr = ConfirmationsDescriptionNotFoundError
			return false
		}

		lines := desc.Children()
		confirmation.Title = strings.TrimSpace(lines.Eq(0).Text())
		confirmation.Receiving = strings.TrimSpace(lines.Eq(1).Text())
		confirmation.Since = strings.TrimSpace(lines.Eq(2).Text())

		confirmations = append(confirmations, confirmation)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return confirmations, nil
}

func (c *Client) execConfirmationRequest(uri string, params url.Values, values map[string]interface{}) RequestResponse {
	if c.credentials == nil || c.credentials.IdentitySecret == "" {
		return RequestResponse{Error: ErrNoIdentitySecret, Status: http.StatusBadRequest}
	}

	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return RequestResponse{Error: ErrNotLoggedIn, Status: http.StatusUnauthorized}
	}

	now := c.getTimeDiff()
	key, err := GenerateConfirmationCode(c.credentials.IdentitySecret, params.Get("tag"), now)
	if err != nil {
		return RequestResponse{Error: err, Status: http.StatusBadRequest}
	}

	device := session.DeviceID
	if device == "" {
		device = deviceID(session.SteamID.ToString())
	}

	params.Set("p", device)
	params.Set("a", session.SteamID.ToString())
	params.Set("t", strconv.FormatInt(now, 10))
	params.Set("m", "android")
	params.Set("k", key)

	for k, v := range values {
		switch v := v.(type) {
		case string:
			params.Add(k, v)
		case uint64:
			params.Add(k, strconv.FormatUint(v, 10))
		}
	}

	req, err := c.newRequest(c.ctx, http.MethodGet, c.community("/mobileconf/"+uri+params.Encode()), nil, "")
	if err != nil {
		return RequestResponse{Error: err, Status: http.StatusBadRequest}
	}

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return RequestResponse{Error: err, Status: http.StatusBadRequest}
	}

	body, err := io.ReadAll(resp.Body)
	return RequestResponse{
		Error:  err,
		Body:   body,
		Status: resp.StatusCode,
	}
}

func (c *Client) AnswerConfirmation(ctx context.Context, confirmation *Confirmation, answer string) error {
	resp := c.enqueueConfirmation(ctx, RequestItem{
		Url: "ajaxop?",
		Params: url.Values{
			"tag": {answer},
		},
		Values: map[string]interface{}{
			"op":  answer,
			"cid": confirmation.ID,
			"ck":  confirmation.Key,
		},
		ResponseChan: make(chan RequestResponse, 1),
	})
	if resp.Error != nil {
		return resp.Error
	}

	var response ConfirmationAnswerResponse
	if err := json.Unmarshal(resp.Body, &response); err != nil {
		return err
	}

	if !response.Success {
		if response.Message == "" {
			return ErrNoSuccess
		}
		return errors.New(response.Message)
	}

	return nil
}

// AcceptConfirmationForObject finds the confirmation created for objectID
// (usually a trade offer id) and allows it.
func (c *Client) AcceptConfirmationForObject(ctx context.Context, objectID uint64) error {
	confirmations, err := c.GetConfirmations(ctx)
	if err != nil {
		return err
	}

	for _, conf := range confirmations {
		if conf.OfferID == objectID {
			return c.AnswerConfirmation(ctx, conf, AnswerAllow)
		}
	}

	return ConfirmationsNotFoundError
}
