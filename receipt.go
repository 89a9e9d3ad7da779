package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// oItem = {"id":"...",...};
var receiptExp = regexp.MustCompile(`(?m)oItem = (\{.*\});\s*$`)

// GetTradeReceivedItems reads the items received in a completed trade from its
// receipt page. The page embeds each item as a JSON literal inside a script
// block; only the literals are extracted, the script is never evaluated.
func (c *Client) GetTradeReceivedItems(ctx context.Context, receiptID uint64) ([]*InventoryItem, error) {
	body, err := c.getPage(ctx, c.community(fmt.Sprintf("/trade/%d/receipt/", receiptID)))
	if err != nil {
		return nil, err
	}

	return parseReceipt(body)
}

func parseReceipt(body []byte) ([]*InventoryItem, error) {
	if len(body) < 100 && notLoggedInExp.Match(body) {
		return nil, ErrNotLoggedIn
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if msg := strings.TrimSpace(doc.Find("#error_msg").Text()); msg != "" {
		return nil, errors.New(msg)
	}

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if text := s.Text(); strings.Contains(text, "oItem") {
			scripts = append(scripts, text)
		}
	})
	if len(scripts) == 0 {
		return nil, ErrMalformedResponse
	}

	items := make([]*InventoryItem, 0)
	for _, script := range scripts {
		for _, m := range receiptExp.FindAllStringSubmatch(script, -1) {
			item, err := decodeReceiptItem([]byte(m[1]))
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		return nil, ErrReceiptMatch
	}

	return items, nil
}

func decodeReceiptItem(raw []byte) (*InventoryItem, error) {
	var asset struct {
		ID         FlexUint `json:"id"`
		AppID      FlexUint `json:"appid"`
		ContextID  FlexUint `json:"contextid"`
		ClassID    FlexUint `json:"classid"`
		InstanceID FlexUint `json:"instanceid"`
		Amount     FlexUint `json:"amount"`
	}
	if err := json.Unmarshal(raw, &asset); err != nil {
		return nil, err
	}

	desc := &EconItemDesc{}
	if err := json.Unmarshal(raw, desc); err != nil {
		return nil, err
	}

	amount := uint64(asset.Amount)
	if amount == 0 {
		amount = 1
	}

	return &InventoryItem{
		AppID:      uint32(asset.AppID),
		ContextID:  uint64(asset.ContextID),
		AssetID:    uint64(asset.ID),
		ClassID:    uint64(asset.ClassID),
		InstanceID: uint64(asset.InstanceID),
		Amount:     amount,
		Desc:       desc,
	}, nil
}
