package haier

import (
	"bytes"
	"encoding/json"
	"time"
)

// TokenInfo is one issued token pair. A refresh supersedes it with a new
// value; it is never modified in place.
type TokenInfo struct {
	AccessToken  string `json:"accountToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// ExpiresAt returns the expiry of a token issued at issuedAt.
func (t TokenInfo) ExpiresAt(issuedAt time.Time) time.Time {
	return issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// UserInfo identifies the account owning a token.
type UserInfo struct {
	UserID   string `json:"userId"`
	Mobile   string `json:"mobile"`
	Username string `json:"username"`
}

// Device is an appliance bound to the account. Attributes is empty until
// loaded from the digital model or the attribute cache.
type Device struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	ProductCode string      `json:"product_code"`
	ProductName string      `json:"product_name"`
	WifiType    string      `json:"wifi_type"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// deviceInfo is one entry of the deviceinfos list response.
type deviceInfo struct {
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName"`
	DeviceType   string `json:"deviceType"`
	ProductCodeT string `json:"productCodeT"`
	ProductNameT string `json:"productNameT"`
	WifiType     string `json:"wifiType"`
}

func (d deviceInfo) toDevice() Device {
	return Device{
		ID:          d.DeviceID,
		Name:        d.DeviceName,
		Type:        d.DeviceType,
		ProductCode: d.ProductCodeT,
		ProductName: d.ProductNameT,
		WifiType:    d.WifiType,
	}
}

// Attribute is one entry of a device's digital model.
//
// HasValue distinguishes an attribute that reports no current value from
// one whose value is JSON null; only the former is left out of snapshots.
type Attribute struct {
	Name          string     `json:"name"`
	Desc          string     `json:"desc,omitempty"`
	DefaultValue  any        `json:"defaultValue,omitempty"`
	Value         any        `json:"value,omitempty"`
	HasValue      bool       `json:"-"`
	OperationType string     `json:"operationType,omitempty"`
	Readable      bool       `json:"readable"`
	Writable      bool       `json:"writable"`
	Invisible     bool       `json:"invisible"`
	ValueRange    ValueRange `json:"valueRange"`
}

type attributeAlias Attribute

// UnmarshalJSON records whether the source object carried a value field.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var alias attributeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	_, alias.HasValue = fields["value"]
	*a = Attribute(alias)
	return nil
}

// MarshalJSON writes value whenever HasValue is set, including null.
func (a Attribute) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(attributeAlias(a))
	if err != nil {
		return nil, err
	}
	if !a.HasValue || a.Value != nil {
		return data, nil
	}
	// Value is nil but present: splice "value":null before the closing brace.
	return append(bytes.TrimSuffix(data, []byte("}")), []byte(`,"value":null}`)...), nil
}

// ValueRange describes the legal values of an attribute. Type is "STEP"
// for numeric ranges and "LIST" for enumerations.
type ValueRange struct {
	Type     string         `json:"type"`
	DataStep *DataStep      `json:"dataStep,omitempty"`
	DataList []DataListItem `json:"dataList,omitempty"`
}

// DataStep is a numeric range. The vendor encodes every bound as a string.
type DataStep struct {
	DataType string `json:"dataType"`
	Step     string `json:"step"`
	MinValue string `json:"minValue"`
	MaxValue string `json:"maxValue"`
}

// DataListItem is one enumeration member.
type DataListItem struct {
	Data string `json:"data"`
	Desc string `json:"desc"`
}

// Snapshot is the current name to value mapping of one device.
type Snapshot struct {
	DeviceID   string         `json:"deviceId"`
	Attributes map[string]any `json:"attributes"`
}

// SnapshotOf builds the value mapping for attrs, skipping attributes that
// carry no value. Later duplicates of a name win.
func SnapshotOf(attrs []Attribute) map[string]any {
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if !attr.HasValue {
			continue
		}
		values[attr.Name] = attr.Value
	}
	return values
}
