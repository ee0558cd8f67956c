// Package plugin maps device-type tags to identification strategies.
//
// A Strategy always has a Kind. Everything else is optional and discovered by type assertion:
// Identifier recognises an existing device from type-specific attributes, Detailer extracts the
// key/value details persisted for the device, and Namer proposes a display name.
package plugin

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"hivemind/core-go/internal/sqlcgen"
)

// Core attribute keys. Everything else in a report is passed through to the active strategy.
const (
	KeyName       = "name"
	KeyDeviceType = "device_type"
	KeyBrand      = "brand"
	KeyModel      = "model"
	KeyMACs       = "macs"
	KeyIPs        = "ips"
)

func IsCoreKey(key string) bool {
	switch key {
	case KeyName, KeyDeviceType, KeyBrand, KeyModel, KeyMACs, KeyIPs:
		return true
	}
	return false
}

// Attributes is a registration report as received from an agent.
type Attributes map[string]any

// String returns the attribute as trimmed text, or "" when absent or not a scalar.
func (a Attributes) String(key string) string {
	s, _ := Stringify(a[key])
	return strings.TrimSpace(s)
}

// Strings returns a list attribute. A bare string is treated as a one-element list.
func (a Attributes) Strings(key string) []string {
	switch v := a[key].(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := Stringify(item); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Stringify renders a scalar attribute value as stored text: 2 becomes "2", true becomes "true".
// Composite values are stored as JSON. nil reports ok=false.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case json.Number:
		return t.String(), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// DeviceRef points at an existing device row.
type DeviceRef struct {
	ID string
}

// DetailRef is the polymorphic link from a device to its plugin-owned detail record.
// It is either None or Specific.
type DetailRef interface {
	isDetailRef()
}

type None struct{}

type Specific struct {
	Kind string
	ID   string
}

func (None) isDetailRef()     {}
func (Specific) isDetailRef() {}

// RefFromColumns builds a DetailRef from the nullable (plugin_type, plugin_id) column pair.
func RefFromColumns(kind, id *string) DetailRef {
	if kind == nil || id == nil || *kind == "" || *id == "" {
		return None{}
	}
	return Specific{Kind: *kind, ID: *id}
}

// Columns is the inverse of RefFromColumns.
func Columns(ref DetailRef) (kind, id *string) {
	s, ok := ref.(Specific)
	if !ok {
		return nil, nil
	}
	return &s.Kind, &s.ID
}

// Lookup is the read access identification strategies get to the store.
type Lookup interface {
	FindDeviceIDByCharacteristic(ctx context.Context, arg sqlcgen.FindDeviceIDByCharacteristicParams) (string, error)
}

type Strategy interface {
	// Kind is the normalized tag the strategy is registered under. The fallback returns "".
	Kind() string
}

type Identifier interface {
	// IdentifyExisting returns nil, nil when the report does not match a known device.
	IdentifyExisting(ctx context.Context, q Lookup, attrs Attributes) (*DeviceRef, error)
	// IdentityKeys lists the natural keys the strategy identifies by, for lock serialization.
	IdentityKeys(attrs Attributes) []string
}

type Detailer interface {
	Details(ctx context.Context, attrs Attributes) (map[string]string, error)
}

type Namer interface {
	DefaultName(ctx context.Context, attrs Attributes) (string, bool)
}
