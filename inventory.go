package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
)

const inventoryPageSize = 2000

var appContextExp = regexp.MustCompile(`var g_rgAppContextData = (.*?);\s*\n`)

type InventoryItem struct {
	AppID      uint32
	ContextID  uint64
	AssetID    uint64
	ClassID    uint64
	InstanceID uint64
	Amount     uint64
	Pos        int
	Desc       *EconItemDesc
}

type InventoryContext struct {
	ID         uint64 `json:"id,string"`
	AssetCount uint32 `json:"asset_count"`
	Name       string `json:"name"`
}

type InventoryAppStats struct {
	AppID            uint32                       `json:"appid"`
	Name             string                       `json:"name"`
	AssetCount       uint32                       `json:"asset_count"`
	Icon             string                       `json:"icon"`
	Link             string                       `json:"link"`
	InventoryLogo    string                       `json:"inventory_logo"`
	TradePermissions string                       `json:"trade_permissions"`
	Contexts         map[string]*InventoryContext `json:"rgContexts"`
}

type inventoryAsset struct {
	AppID      uint32   `json:"appid"`
	ContextID  FlexUint `json:"contextid"`
	AssetID    FlexUint `json:"assetid"`
	ClassID    FlexUint `json:"classid"`
	InstanceID FlexUint `json:"instanceid"`
	Amount     FlexUint `json:"amount"`
}

type inventoryResponse struct {
	Success      FlexBool          `json:"success"`
	Error        string            `json:"error"`
	Assets       []*inventoryAsset `json:"assets"`
	Descriptions []*EconItemDesc   `json:"descriptions"`
	MoreItems    FlexBool          `json:"more_items"`
	LastAssetID  FlexUint          `json:"last_assetid"`
	Total        uint32            `json:"total_inventory_count"`
}

// GetInventory loads every page of the inventory of sid for one app and context.
func (c *Client) GetInventory(ctx context.Context, sid SteamID, appID uint32, contextID uint64, tradableOnly bool) ([]*InventoryItem, error) {
	var filters []Filter
	if tradableOnly {
		filters = append(filters, IsTradable(true))
	}

	items := make([]*InventoryItem, 0)
	var (
		startAssetID uint64
		pos          int
	)
	for {
		page, err := c.getInventoryPage(ctx, sid, appID, contextID, startAssetID)
		if err != nil {
			return nil, err
		}

		descs := make(map[ClassInstance]*EconItemDesc, len(page.Descriptions))
		for _, desc := range page.Descriptions {
			descs[ClassInstance{uint64(desc.ClassID), uint64(desc.InstanceID)}] = desc
		}

		pageItems := make([]*InventoryItem, 0, len(page.Assets))
		for _, asset := range page.Assets {
			pos++
			item := &InventoryItem{
				AppID:      asset.AppID,
				ContextID:  uint64(asset.ContextID),
				AssetID:    uint64(asset.AssetID),
				ClassID:    uint64(asset.ClassID),
				InstanceID: uint64(asset.InstanceID),
				Amount:     uint64(asset.Amount),
				Pos:        pos,
				Desc:       descs[ClassInstance{uint64(asset.ClassID), uint64(asset.InstanceID)}],
			}
			if item.Desc == nil {
				item.Desc = &EconItemDesc{}
			}
			pageItems = append(pageItems, item)
		}
		items = append(items, FilterItems(pageItems, filters...)...)

		if !page.MoreItems || page.LastAssetID == 0 {
			break
		}
		startAssetID = uint64(page.LastAssetID)
	}

	return items, nil
}

func (c *Client) getInventoryPage(ctx context.Context, sid SteamID, appID uint32, contextID uint64, startAssetID uint64) (*inventoryResponse, error) {
	params := url.Values{
		"l":     {c.language},
		"count": {strconv.Itoa(inventoryPageSize)},
	}
	if startAssetID != 0 {
		params.Set("start_assetid", strconv.FormatUint(startAssetID, 10))
	}

	uri := c.community(fmt.Sprintf("/inventory/%d/%d/%d?%s", uint64(sid), appID, contextID, params.Encode()))
	body, err := c.getPage(ctx, uri)
	if err != nil {
		return nil, err
	}

	var response inventoryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, ErrMalformedResponse
	}
	if !response.Success {
		if response.Error != "" {
			return nil, NewTradeError(response.Error)
		}
		return nil, ErrNoSuccess
	}

	return &response, nil
}

// GetInventoryAppStats lists the apps and contexts present in the inventory of sid.
func (c *Client) GetInventoryAppStats(ctx context.Context, sid SteamID) (map[string]*InventoryAppStats, error) {
	body, err := c.getPage(ctx, c.community(fmt.Sprintf("/profiles/%d/inventory", uint64(sid))))
	if err != nil {
		return nil, err
	}

	m := appContextExp.FindSubmatch(body)
	if m == nil {
		return nil, ErrMalformedResponse
	}

	stats := make(map[string]*InventoryAppStats)
	if err := json.Unmarshal(m[1], &stats); err != nil {
		// an empty inventory is rendered as []
		var empty []interface{}
		if json.Unmarshal(m[1], &empty) == nil {
			return stats, nil
		}
		return nil, ErrMalformedResponse
	}

	return stats, nil
}

type foreignInventoryResponse struct {
	Success      FlexBool                         `json:"success"`
	Inventory    map[string]*foreignInventoryItem `json:"rgInventory"`
	Descriptions map[string]*EconItemDesc         `json:"rgDescriptions"`
	More         FlexBool                         `json:"more"`
	MoreStart    FlexUint                         `json:"more_start"`
}

type foreignInventoryItem struct {
	ID         FlexUint `json:"id"`
	ClassID    FlexUint `json:"classid"`
	InstanceID FlexUint `json:"instanceid"`
	Amount     FlexUint `json:"amount"`
	Pos        int      `json:"pos"`
}

// GetForeignInventory loads the partner inventory visible from an open trade session.
// An item without a matching description is reported as ErrMalformedResponse.
func (c *Client) GetForeignInventory(ctx context.Context, partner SteamID, appID uint32, contextID uint64) ([]*InventoryItem, error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return nil, ErrNotLoggedIn
	}

	base := c.community(fmt.Sprintf("/trade/%d/foreigninventory/", uint64(partner)))
	params := url.Values{
		"sessionid": {sessionID},
		"steamid":   {partner.ToString()},
		"appid":     {strconv.FormatUint(uint64(appID), 10)},
		"contextid": {strconv.FormatUint(contextID, 10)},
	}

	req, err := c.newRequest(ctx, http.MethodGet, base+"?"+params.Encode(), nil, base)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

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

	var response foreignInventoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, ErrMalformedResponse
	}
	if !response.Success || response.Inventory == nil || response.Descriptions == nil {
		return nil, ErrNoSuccess
	}

	items := make([]*InventoryItem, 0, len(response.Inventory))
	for _, raw := range response.Inventory {
		desc, ok := response.Descriptions[fmt.Sprintf("%d_%d", uint64(raw.ClassID), uint64(raw.InstanceID))]
		if !ok {
			return nil, fmt.Errorf("missing description for class %d: %w", uint64(raw.ClassID), ErrMalformedResponse)
		}
		items = append(items, &InventoryItem{
			AppID:      appID,
			ContextID:  contextID,
			AssetID:    uint64(raw.ID),
			ClassID:    uint64(raw.ClassID),
			InstanceID: uint64(raw.InstanceID),
			Amount:     uint64(raw.Amount),
			Pos:        raw.Pos,
			Desc:       desc,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Pos < items[j].Pos })

	return items, nil
}
