package tradeoffer

import (
	"fmt"

	steam "github.com/zergu1ar/steamtrade"
)

// ItemKey is the identity of an item: amount and description are not part of it.
type ItemKey struct {
	AppID     uint32
	ContextID uint64
	AssetID   uint64
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%d_%d_%d", k.AppID, k.ContextID, k.AssetID)
}

// Item references one unit of tradable property. It is a value; copies are independent.
type Item struct {
	AppID      uint32
	ContextID  uint64
	AssetID    uint64
	Amount     uint64
	ClassID    uint64
	InstanceID uint64

	Name           string
	MarketHashName string
	Type           string
	Tradable       bool
	Missing        bool
}

func (i Item) Key() ItemKey {
	return ItemKey{AppID: i.AppID, ContextID: i.ContextID, AssetID: i.AssetID}
}

// Equals compares identity only.
func (i Item) Equals(other Item) bool {
	return i.Key() == other.Key()
}

// Described reports whether the item carries a resolved name.
func (i Item) Described() bool {
	return i.Name != ""
}

func (i Item) class() steam.ClassInstance {
	return steam.ClassInstance{ClassID: i.ClassID, InstanceID: i.InstanceID}
}

func (i *Item) describe(desc *steam.EconItemDesc) {
	if desc == nil {
		return
	}
	i.Name = desc.Name
	i.MarketHashName = desc.MarketHashName
	i.Type = desc.Type
	i.Tradable = bool(desc.Tradable)
}

func (i Item) econ() *steam.EconItem {
	amount := i.Amount
	if amount == 0 {
		amount = 1
	}
	return &steam.EconItem{
		AppID:      i.AppID,
		ContextID:  steam.FlexUint(i.ContextID),
		AssetID:    steam.FlexUint(i.AssetID),
		ClassID:    steam.FlexUint(i.ClassID),
		InstanceID: steam.FlexUint(i.InstanceID),
		Amount:     steam.FlexUint(amount),
	}
}

func itemFromEcon(e *steam.EconItem) Item {
	return Item{
		AppID:      e.AppID,
		ContextID:  uint64(e.ContextID),
		AssetID:    uint64(e.AssetID),
		Amount:     uint64(e.Amount),
		ClassID:    uint64(e.ClassID),
		InstanceID: uint64(e.InstanceID),
		Missing:    e.Missing,
	}
}

func itemFromInventory(e *steam.InventoryItem) Item {
	item := Item{
		AppID:      e.AppID,
		ContextID:  e.ContextID,
		AssetID:    e.AssetID,
		Amount:     e.Amount,
		ClassID:    e.ClassID,
		InstanceID: e.InstanceID,
	}
	item.describe(e.Desc)
	return item
}

func itemsFromEcon(list []*steam.EconItem) []Item {
	out := make([]Item, 0, len(list))
	for _, e := range list {
		if e != nil {
			out = append(out, itemFromEcon(e))
		}
	}
	return out
}

func itemsFromInventory(list []*steam.InventoryItem) []Item {
	out := make([]Item, 0, len(list))
	for _, e := range list {
		if e != nil {
			out = append(out, itemFromInventory(e))
		}
	}
	return out
}

func econItems(list []Item) []*steam.EconItem {
	out := make([]*steam.EconItem, 0, len(list))
	for _, i := range list {
		out = append(out, i.econ())
	}
	return out
}

func indexOfItem(list []Item, item Item) int {
	for idx, i := range list {
		if i.Equals(item) {
			return idx
		}
	}
	return -1
}
