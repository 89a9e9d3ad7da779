package steam

type Filter func(*InventoryItem) bool

func IsTradable(cond bool) Filter {
	return func(item *InventoryItem) bool {
		return item.Desc != nil && bool(item.Desc.Tradable) == cond
	}
}

func IsMarketable(cond bool) Filter {
	return func(item *InventoryItem) bool {
		return item.Desc != nil && bool(item.Desc.Marketable) == cond
	}
}

// FilterItems returns the items that pass every filter, keeping their order.
func FilterItems(items []*InventoryItem, filters ...Filter) []*InventoryItem {
	out := make([]*InventoryItem, 0, len(items))
next:
	for _, item := range items {
		for _, filter := range filters {
			if !filter(item) {
				continue next
			}
		}
		out = append(out, item)
	}
	return out
}
