// Package identity decides whether a registration report describes a device already on record.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/sqlcgen"
)

// Store is the read access the resolver needs. *sqlcgen.Queries satisfies it on a pool or a tx.
type Store interface {
	plugin.Lookup
	FindDeviceIDByMAC(ctx context.Context, mac string) (string, error)
}

type Request struct {
	DeviceType string
	// MACs are normalized and consulted in order.
	MACs  []string
	Attrs plugin.Attributes
}

type Resolver struct {
	registry *plugin.Registry
	log      zerolog.Logger
}

func NewResolver(registry *plugin.Registry, log zerolog.Logger) *Resolver {
	return &Resolver{registry: registry, log: log}
}

// Resolve returns the existing device the report describes, or nil when it is new.
// The type-specific strategy is asked first; when it has no answer the MACs are tried in order.
// Absence is never an error; only store failures are returned.
func (r *Resolver) Resolve(ctx context.Context, q Store, req Request) (*plugin.DeviceRef, error) {
	if ref := r.identifyByPlugin(ctx, q, req); ref != nil {
		return ref, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, mac := range req.MACs {
		id, err := q.FindDeviceIDByMAC(ctx, mac)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find device by mac %s: %w", mac, err)
		}
		return &plugin.DeviceRef{ID: id}, nil
	}
	return nil, nil
}

func (r *Resolver) identifyByPlugin(ctx context.Context, q Store, req Request) *plugin.DeviceRef {
	if req.DeviceType == "" {
		return nil
	}
	s, ok := r.registry.Lookup(req.DeviceType)
	if !ok {
		r.log.Debug().Str("device_type", req.DeviceType).Msg("unknown device type")
		return nil
	}
	ident, ok := s.(plugin.Identifier)
	if !ok {
		return nil
	}

	var found *plugin.DeviceRef
	err := withSavepoint(ctx, q, func(l plugin.Lookup) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%w: %v", errPluginPanic, rec)
			}
		}()
		found, err = ident.IdentifyExisting(ctx, l, req.Attrs)
		return err
	})
	switch {
	case errors.Is(err, errPluginPanic):
		r.log.Error().Err(err).Str("plugin", s.Kind()).Msg("plugin identification panicked")
		return nil
	case err != nil:
		r.log.Warn().Err(err).Str("plugin", s.Kind()).Msg("plugin identification failed; falling back to macs")
		return nil
	}
	if found == nil || found.ID == "" {
		return nil
	}
	return found
}

var errPluginPanic = errors.New("plugin panicked")

// savepointer is implemented by *sqlcgen.Queries. Inside a transaction a failed plugin query
// would otherwise abort it before the MAC fallback runs.
type savepointer interface {
	Savepoint(ctx context.Context, fn func(q *sqlcgen.Queries) error) error
}

func withSavepoint(ctx context.Context, q Store, fn func(l plugin.Lookup) error) error {
	if sp, ok := q.(savepointer); ok {
		return sp.Savepoint(ctx, func(nested *sqlcgen.Queries) error { return fn(nested) })
	}
	return fn(q)
}

// LockKeys lists every natural key the report could be identified by, sorted and deduplicated.
// Holding a lock on each serializes registrations that would otherwise race to create the same device.
func (r *Resolver) LockKeys(req Request) []string {
	seen := make(map[string]struct{}, len(req.MACs)+1)
	var out []string
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	for _, mac := range req.MACs {
		add("mac:" + mac)
	}
	if req.DeviceType != "" {
		if s, ok := r.registry.Lookup(req.DeviceType); ok {
			if ident, ok := s.(plugin.Identifier); ok {
				for _, k := range ident.IdentityKeys(req.Attrs) {
					add(k)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}
