package tradeoffer

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	steam "github.com/zergu1ar/steamtrade"
)

const defaultAssetCacheSize = 1000

// DescriptionSource resolves item descriptions, usually *steam.Client.
type DescriptionSource interface {
	GetAssetClassInfo(ctx context.Context, appID uint32, classes []steam.ClassInstance, language string) (map[steam.ClassInstance]*steam.EconItemDesc, error)
}

type assetKey struct {
	AppID      uint32
	ClassID    uint64
	InstanceID uint64
}

// AssetCache is a bounded, concurrency-safe cache of item descriptions. One
// cache may be shared by several managers.
type AssetCache struct {
	cache *lru.Cache[assetKey, *steam.EconItemDesc]
}

// NewAssetCache creates a cache holding at most size descriptions.
func NewAssetCache(size int) (*AssetCache, error) {
	if size <= 0 {
		size = defaultAssetCacheSize
	}
	cache, err := lru.New[assetKey, *steam.EconItemDesc](size)
	if err != nil {
		return nil, err
	}
	return &AssetCache{cache: cache}, nil
}

func (c *AssetCache) Get(appID uint32, class steam.ClassInstance) (*steam.EconItemDesc, bool) {
	return c.cache.Get(assetKey{appID, class.ClassID, class.InstanceID})
}

func (c *AssetCache) Add(appID uint32, desc *steam.EconItemDesc) {
	if desc == nil || desc.ClassID == 0 {
		return
	}
	if desc.AppID != 0 {
		appID = desc.AppID
	}
	if appID == 0 {
		return
	}
	c.cache.Add(assetKey{appID, uint64(desc.ClassID), uint64(desc.InstanceID)}, desc)
}

func (c *AssetCache) AddAll(descs []*steam.EconItemDesc) {
	for _, desc := range descs {
		c.Add(0, desc)
	}
}

func (c *AssetCache) Len() int {
	return c.cache.Len()
}

// Describe fills in the description of every item, fetching the ones the
// cache does not know from src in chunks of steam.MaxClassInfoPerRequest per
// app. Items whose description could not be fetched are left as they are and
// the fetch errors are returned joined.
func (c *AssetCache) Describe(ctx context.Context, src DescriptionSource, language string, items []*Item) error {
	missing := make(map[uint32][]steam.ClassInstance)
	seen := make(map[assetKey]bool)
	for _, item := range items {
		if desc, ok := c.Get(item.AppID, item.class()); ok {
			item.describe(desc)
			continue
		}
		key := assetKey{item.AppID, item.ClassID, item.InstanceID}
		if item.ClassID == 0 || seen[key] {
			continue
		}
		seen[key] = true
		missing[item.AppID] = append(missing[item.AppID], item.class())
	}

	if len(missing) == 0 || src == nil {
		return nil
	}

	var errs []error
	for appID, classes := range missing {
		for start := 0; start < len(classes); start += steam.MaxClassInfoPerRequest {
			end := min(start+steam.MaxClassInfoPerRequest, len(classes))
			descs, err := src.GetAssetClassInfo(ctx, appID, classes[start:end], language)
			if err != nil {
				errs = append(errs, fmt.Errorf("app %d: %w", appID, err))
				continue
			}
			for class, desc := range descs {
				desc.ClassID = steam.FlexUint(class.ClassID)
				desc.InstanceID = steam.FlexUint(class.InstanceID)
				c.Add(appID, desc)
			}
		}
	}

	for _, item := range items {
		if item.Described() {
			continue
		}
		if desc, ok := c.Get(item.AppID, item.class()); ok {
			item.describe(desc)
		}
	}

	return errors.Join(errs...)
}
