package plugin

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"hivemind/core-go/internal/enrichment/rdns"
	"hivemind/core-go/internal/naming"
	"hivemind/core-go/internal/sqlcgen"
)

// AddressResolver finds names for an IP address.
type AddressResolver interface {
	LookupAddr(ctx context.Context, address string) ([]rdns.Candidate, error)
}

// KeyHostname is an optional agent-reported attribute used as the strongest name candidate.
const KeyHostname = "hostname"

// Characteristics stores every non-core attribute as a key/value characteristic. With an IDKey
// it also identifies existing devices of the same kind by that characteristic.
type Characteristics struct {
	tag     string
	idKey   string
	reverse AddressResolver
	log     zerolog.Logger
}

type CharacteristicsOption func(*Characteristics)

// WithIDKey makes the strategy identify devices by the characteristic named key.
func WithIDKey(key string) CharacteristicsOption {
	return func(c *Characteristics) { c.idKey = strings.TrimSpace(key) }
}

// WithReverseDNS adds PTR names of the first reported IP to the name candidates.
func WithReverseDNS(r AddressResolver) CharacteristicsOption {
	return func(c *Characteristics) { c.reverse = r }
}

func WithLogger(log zerolog.Logger) CharacteristicsOption {
	return func(c *Characteristics) { c.log = log }
}

func NewCharacteristics(tag string, opts ...CharacteristicsOption) *Characteristics {
	c := &Characteristics{tag: NormalizeTag(tag), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Characteristics) Kind() string { return c.tag }

func (c *Characteristics) IDKey() string { return c.idKey }

func (c *Characteristics) IdentifyExisting(ctx context.Context, q Lookup, attrs Attributes) (*DeviceRef, error) {
	if c.idKey == "" {
		return nil, nil
	}
	value := attrs.String(c.idKey)
	if value == "" {
		return nil, nil
	}

	id, err := q.FindDeviceIDByCharacteristic(ctx, sqlcgen.FindDeviceIDByCharacteristicParams{
		Kind:  c.tag,
		Key:   c.idKey,
		Value: value,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &DeviceRef{ID: id}, nil
}

func (c *Characteristics) IdentityKeys(attrs Attributes) []string {
	if c.idKey == "" {
		return nil
	}
	value := attrs.String(c.idKey)
	if value == "" {
		return nil
	}
	return []string{"plugin:" + c.tag + ":" + c.idKey + ":" + value}
}

// Details stores the identifying characteristic in the same trimmed form IdentifyExisting
// looks it up by.
func (c *Characteristics) Details(_ context.Context, attrs Attributes) (map[string]string, error) {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if IsCoreKey(k) {
			continue
		}
		s, ok := Stringify(v)
		if !ok {
			continue
		}
		if k == c.idKey {
			s = strings.TrimSpace(s)
		}
		out[k] = s
	}
	return out, nil
}

func (c *Characteristics) DefaultName(ctx context.Context, attrs Attributes) (string, bool) {
	return naming.ChooseBestDisplayName(c.candidates(ctx, attrs))
}

func (c *Characteristics) candidates(ctx context.Context, attrs Attributes) []naming.Candidate {
	var out []naming.Candidate

	if h := attrs.String(KeyHostname); h != "" {
		out = append(out, naming.Candidate{Name: h, Source: naming.SourceHostname})
	}

	if ips := attrs.Strings(KeyIPs); c.reverse != nil && len(ips) > 0 {
		names, err := c.reverse.LookupAddr(ctx, ips[0])
		if err != nil {
			c.log.Debug().Err(err).Str("ip", ips[0]).Msg("reverse dns lookup failed")
		}
		for _, n := range names {
			out = append(out, naming.Candidate{Name: n.Name, Source: n.Source})
		}
	}

	if label := strings.TrimSpace(attrs.String(KeyBrand) + " " + attrs.String(KeyModel)); label != "" {
		out = append(out, naming.Candidate{Name: label, Source: naming.SourceTaxonomy})
	}

	if macs := attrs.Strings(KeyMACs); len(macs) > 0 {
		out = append(out, naming.Candidate{Name: naming.MACLabel(macs[0]), Source: naming.SourceMAC})
	}

	out = append(out, naming.Candidate{Name: c.tag, Source: naming.SourceKind})
	return out
}
