package haier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// CacheStore persists one raw record per device id.
type CacheStore interface {
	// Load returns the stored record, or ok=false when there is none.
	Load(ctx context.Context, deviceID string) (record []byte, ok bool, err error)
	Save(ctx context.Context, deviceID string, record []byte) error
	Delete(ctx context.Context, deviceID string) error
}

// ModelFetcher fetches a device's digital model. *Client implements it.
type ModelFetcher interface {
	GetDigitalModel(ctx context.Context, deviceID string) ([]Attribute, error)
}

// CachedDeviceMeta is the device metadata kept alongside cached attributes.
type CachedDeviceMeta struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	WifiType    string `json:"wifi_type"`
}

// CachedDeviceRecord is the persisted shape of one cache entry.
type CachedDeviceRecord struct {
	Device     CachedDeviceMeta `json:"device"`
	Attributes []Attribute      `json:"attributes"`
}

// NewCachedDeviceRecord captures d's metadata and attrs.
func NewCachedDeviceRecord(d Device, attrs []Attribute) CachedDeviceRecord {
	if attrs == nil {
		attrs = []Attribute{}
	}
	return CachedDeviceRecord{
		Device: CachedDeviceMeta{
			Name:        d.Name,
			Type:        d.Type,
			ProductCode: d.ProductCode,
			ProductName: d.ProductName,
			WifiType:    d.WifiType,
		},
		Attributes: attrs,
	}
}

// ParseCachedDeviceRecord validates and decodes a stored record.
//
// An empty record, JSON null or an empty object is a miss (nil, nil).
// Anything else that is not an object with an attributes array returns
// an error wrapping ErrCacheCorrupt.
func ParseCachedDeviceRecord(raw []byte) (*CachedDeviceRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: not an object", ErrCacheCorrupt)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	attrs, ok := fields["attributes"]
	if !ok {
		return nil, fmt.Errorf("%w: no attributes", ErrCacheCorrupt)
	}
	if t := bytes.TrimSpace(attrs); len(t) == 0 || t[0] != '[' {
		return nil, fmt.Errorf("%w: attributes is not an array", ErrCacheCorrupt)
	}

	var rec CachedDeviceRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
	}
	return &rec, nil
}

// AttributeCache serves device attribute models from a CacheStore,
// fetching and persisting on a miss.
//
// Entries never expire. Values in cached attributes are as of the first
// fetch; callers needing live values use Client.GetDeviceSnapshot.
type AttributeCache struct {
	store   CacheStore
	fetcher ModelFetcher
	logger  Logger
}

// NewAttributeCache creates a cache over store backed by fetcher.
func NewAttributeCache(store CacheStore, fetcher ModelFetcher, logger Logger) *AttributeCache {
	return &AttributeCache{store: store, fetcher: fetcher, logger: orNop(logger)}
}

// GetAttributes returns d's attribute model. A corrupt record is deleted
// and handled as a miss.
func (c *AttributeCache) GetAttributes(ctx context.Context, d Device) ([]Attribute, error) {
	raw, ok, err := c.store.Load(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("loading cached attributes for %s: %w", d.ID, err)
	}
	if ok {
		rec, err := ParseCachedDeviceRecord(raw)
		switch {
		case err != nil:
			c.logger.Warn("discarding corrupt cache record", "device_id", d.ID, "error", err)
			if err := c.store.Delete(ctx, d.ID); err != nil {
				return nil, fmt.Errorf("deleting corrupt cache record for %s: %w", d.ID, err)
			}
		case rec != nil:
			c.logger.Debug("attribute cache hit", "device_id", d.ID, "attributes", len(rec.Attributes))
			return rec.Attributes, nil
		}
	}

	attrs, err := c.fetcher.GetDigitalModel(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	record, err := json.Marshal(NewCachedDeviceRecord(d, attrs))
	if err != nil {
		return nil, fmt.Errorf("encoding cache record for %s: %w", d.ID, err)
	}
	if err := c.store.Save(ctx, d.ID, record); err != nil {
		return nil, fmt.Errorf("saving cache record for %s: %w", d.ID, err)
	}
	c.logger.Debug("attribute cache filled", "device_id", d.ID, "attributes", len(attrs))
	if attrs == nil {
		attrs = []Attribute{}
	}
	return attrs, nil
}

// Invalidate drops d's cached model so the next lookup refetches it.
func (c *AttributeCache) Invalidate(ctx context.Context, deviceID string) error {
	return c.store.Delete(ctx, deviceID)
}
