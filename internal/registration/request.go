package registration

import (
	"errors"
	"net"
	"net/netip"
	"strings"

	"hivemind/core-go/internal/identity"
	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/taxonomy"
)

// Request is a validated registration report.
type Request struct {
	Name       string
	DeviceType string
	Brand      string
	Model      string
	// MACs are lower-case colon form, IPs canonical text; both deduplicated in report order.
	MACs []string
	IPs  []string
	// Attrs is the report as plugins see it, with macs and ips replaced by their normalized forms.
	Attrs plugin.Attributes
}

func (r Request) names() taxonomy.Names {
	return taxonomy.Names{Brand: r.Brand, Model: r.Model, DeviceType: r.DeviceType}
}

func (r Request) identity() identity.Request {
	return identity.Request{DeviceType: r.DeviceType, MACs: r.MACs, Attrs: r.Attrs}
}

// ParseRequest validates a raw report. It performs no I/O.
func ParseRequest(attrs plugin.Attributes) (Request, error) {
	var req Request

	var err error
	if req.Name, err = scalar(attrs, plugin.KeyName); err != nil {
		return Request{}, err
	}
	if req.DeviceType, err = scalar(attrs, plugin.KeyDeviceType); err != nil {
		return Request{}, err
	}
	if req.Brand, err = scalar(attrs, plugin.KeyBrand); err != nil {
		return Request{}, err
	}
	if req.Model, err = scalar(attrs, plugin.KeyModel); err != nil {
		return Request{}, err
	}

	if req.MACs, err = parseMACs(attrs[plugin.KeyMACs]); err != nil {
		return Request{}, err
	}
	if req.IPs, err = parseIPs(attrs[plugin.KeyIPs]); err != nil {
		return Request{}, err
	}

	if err := taxonomy.Check(req.names()); err != nil {
		if errors.Is(err, taxonomy.ErrIncomplete) {
			return Request{}, invalid(CodeIncompleteTaxonomy, "", "device_type %q needs both brand and model, or neither", req.DeviceType)
		}
		return Request{}, err
	}

	req.Attrs = make(plugin.Attributes, len(attrs)+2)
	for k, v := range attrs {
		req.Attrs[k] = v
	}
	req.Attrs[plugin.KeyMACs] = req.MACs
	req.Attrs[plugin.KeyIPs] = req.IPs
	return req, nil
}

// scalar reads an optional string-like attribute. A non-blank name is kept verbatim; the others
// are trimmed.
func scalar(attrs plugin.Attributes, key string) (string, error) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return "", nil
	}
	switch v.(type) {
	case map[string]any, []any, []string:
		return "", invalid(CodeInvalidAttribute, key, "must be a scalar")
	}
	s, _ := plugin.Stringify(v)
	if key == plugin.KeyName {
		if strings.TrimSpace(s) == "" {
			return "", nil
		}
		return s, nil
	}
	return attrs.String(key), nil
}

func stringList(field string, v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return t, nil
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(CodeInvalidAttribute, field, "item %d is not a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalid(CodeInvalidAttribute, field, "must be a list of strings")
	}
}

func parseMACs(v any) ([]string, error) {
	raw, err := stringList(plugin.KeyMACs, v)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		hw, err := net.ParseMAC(s)
		if err != nil || len(hw) != 6 {
			return nil, invalid(CodeInvalidMAC, plugin.KeyMACs, "%q is not a 48-bit MAC address", s)
		}
		mac := hw.String()
		if _, ok := seen[mac]; ok {
			continue
		}
		seen[mac] = struct{}{}
		out = append(out, mac)
	}
	return out, nil
}

func parseIPs(v any) ([]string, error) {
	raw, err := stringList(plugin.KeyIPs, v)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		addr, err := netip.ParseAddr(s)
		if err != nil || addr.Zone() != "" {
			return nil, invalid(CodeInvalidIP, plugin.KeyIPs, "%q is not an IP address", s)
		}
		ip := addr.Unmap().String()
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out, nil
}
