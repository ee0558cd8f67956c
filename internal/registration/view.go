package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hivemind/core-go/internal/plugin"
)

type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeCreated Outcome = "created"
)

type Result struct {
	Outcome Outcome    `json:"outcome"`
	Device  DeviceView `json:"device"`
}

type TaxonomyPath struct {
	Brand          string `json:"brand"`
	Model          string `json:"model"`
	DeviceType     string `json:"device_type"`
	Classification string `json:"classification"`
}

// DeviceView is a device as returned to callers.
type DeviceView struct {
	ID       string        `json:"id"`
	Name     *string       `json:"name"`
	Taxonomy *TaxonomyPath `json:"taxonomy"`

	Detail     plugin.DetailRef `json:"-"`
	PluginType *string          `json:"plugin_type"`
	PluginID   *string          `json:"plugin_id"`

	MACs []string `json:"macs"`
	IPs  []string `json:"ips"`

	// Details holds macs and ips with the plugin's characteristics merged on top.
	Details map[string]any `json:"details"`
}

// mergeDetails builds the caller-facing detail mapping. Plugin keys win over the core's own.
func mergeDetails(macs, ips []string, pluginDetails map[string]string) map[string]any {
	out := make(map[string]any, len(pluginDetails)+2)
	out[plugin.KeyMACs] = macs
	out[plugin.KeyIPs] = ips
	for k, v := range pluginDetails {
		out[k] = v
	}
	return out
}

func loadView(ctx context.Context, q Queries, id string) (DeviceView, error) {
	d, err := q.GetDevice(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeviceView{}, ErrNotFound
	}
	if err != nil {
		return DeviceView{}, fmt.Errorf("get device: %w", err)
	}

	macs, err := q.ListDeviceMACs(ctx, d.ID)
	if err != nil {
		return DeviceView{}, fmt.Errorf("list macs: %w", err)
	}
	ips, err := q.ListDeviceIPs(ctx, d.ID)
	if err != nil {
		return DeviceView{}, fmt.Errorf("list ips: %w", err)
	}
	if macs == nil {
		macs = []string{}
	}
	if ips == nil {
		ips = []string{}
	}

	v := DeviceView{
		ID:     d.ID,
		Name:   d.Name,
		Detail: plugin.RefFromColumns(d.PluginType, d.PluginID),
		MACs:   macs,
		IPs:    ips,
	}
	v.PluginType, v.PluginID = plugin.Columns(v.Detail)

	if d.DeviceTypeID != nil {
		tax, err := q.GetDeviceTaxonomy(ctx, *d.DeviceTypeID)
		if err != nil {
			return DeviceView{}, fmt.Errorf("get taxonomy: %w", err)
		}
		v.Taxonomy = &TaxonomyPath{
			Brand:          tax.BrandName,
			Model:          tax.ModelName,
			DeviceType:     tax.DeviceTypeName,
			Classification: tax.Classification,
		}
	}

	var pluginDetails map[string]string
	if ref, ok := v.Detail.(plugin.Specific); ok {
		chars, err := q.ListCharacteristics(ctx, ref.ID)
		if err != nil {
			return DeviceView{}, fmt.Errorf("list characteristics: %w", err)
		}
		pluginDetails = make(map[string]string, len(chars))
		for _, c := range chars {
			pluginDetails[c.Key] = c.Value
		}
	}
	v.Details = mergeDetails(macs, ips, pluginDetails)
	return v, nil
}
