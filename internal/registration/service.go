// Package registration is the single entry point for device reports: it matches a report to a
// known device or creates a new one, never both and never a partial write.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"hivemind/core-go/internal/db"
	"hivemind/core-go/internal/identity"
	"hivemind/core-go/internal/metrics"
	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/sqlcgen"
	"hivemind/core-go/internal/taxonomy"
)

// Queries is the store surface used by registration, on the pool or inside a transaction.
type Queries interface {
	identity.Store
	taxonomy.Store

	AcquireXactLock(ctx context.Context, key string) error
	CreateDevice(ctx context.Context, arg sqlcgen.CreateDeviceParams) (sqlcgen.Device, error)
	GetDevice(ctx context.Context, id string) (sqlcgen.Device, error)
	GetDeviceTaxonomy(ctx context.Context, deviceTypeID string) (sqlcgen.DeviceTaxonomy, error)
	InsertDeviceMAC(ctx context.Context, arg sqlcgen.InsertDeviceMACParams) error
	InsertDeviceIP(ctx context.Context, arg sqlcgen.InsertDeviceIPParams) error
	ListDeviceMACs(ctx context.Context, deviceID string) ([]string, error)
	ListDeviceIPs(ctx context.Context, deviceID string) ([]string, error)
	CreatePluginDetail(ctx context.Context, kind string) (string, error)
	UpsertCharacteristic(ctx context.Context, arg sqlcgen.Characteristic) error
	ListCharacteristics(ctx context.Context, pluginID string) ([]sqlcgen.Characteristic, error)
}

// Store hands out pool-bound queries and runs transactions.
type Store interface {
	Read() Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

type poolStore struct {
	pool *db.Pool
}

// NewPoolStore adapts a db.Pool to Store.
func NewPoolStore(pool *db.Pool) Store {
	return poolStore{pool: pool}
}

func (s poolStore) Read() Queries { return s.pool.Queries() }

func (s poolStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.pool.InTx(ctx, func(q *sqlcgen.Queries) error { return fn(q) })
}

const defaultAttempts = 3

type Options struct {
	// Attempts bounds how often a registration is re-run after a write conflict.
	Attempts int
	Metrics  *metrics.Metrics
}

type Service struct {
	log      zerolog.Logger
	store    Store
	registry *plugin.Registry
	identity *identity.Resolver
	taxonomy *taxonomy.Resolver
	metrics  *metrics.Metrics
	attempts int
}

func NewService(log zerolog.Logger, store Store, registry *plugin.Registry, opts Options) *Service {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	return &Service{
		log:      log,
		store:    store,
		registry: registry,
		identity: identity.NewResolver(registry, log),
		taxonomy: taxonomy.NewResolver(),
		metrics:  opts.Metrics,
		attempts: opts.Attempts,
	}
}

// pluginOutput is computed once per registration, before any write.
type pluginOutput struct {
	strategy plugin.Strategy
	known    bool
	details  map[string]string
	name     *string
}

// Register matches the report to an existing device or creates a new one.
func (s *Service) Register(ctx context.Context, attrs plugin.Attributes) (Result, error) {
	start := time.Now()
	res, err := s.register(ctx, attrs)

	outcome := string(res.Outcome)
	switch {
	case errors.Is(err, ErrValidation):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ObserveRegistration(outcome, time.Since(start))
	return res, err
}

func (s *Service) register(ctx context.Context, attrs plugin.Attributes) (Result, error) {
	req, err := ParseRequest(attrs)
	if err != nil {
		return Result{}, err
	}

	var out *pluginOutput
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		ref, err := s.identity.Resolve(ctx, s.store.Read(), req.identity())
		if err != nil {
			return Result{}, fmt.Errorf("resolve identity: %w", err)
		}
		if ref != nil {
			return s.matched(ctx, s.store.Read(), ref.ID)
		}

		if out == nil {
			if out, err = s.runPlugin(ctx, req); err != nil {
				return Result{}, err
			}
		}

		res, created, err := s.create(ctx, req, out)
		if err == nil {
			if res.Outcome == OutcomeCreated {
				s.recordTaxonomy(created)
				s.log.Info().
					Str("device_id", res.Device.ID).
					Str("device_type", req.DeviceType).
					Int("macs", len(req.MACs)).
					Msg("device registered")
			}
			return res, nil
		}
		if !db.IsUniqueViolation(err) {
			return Result{}, err
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("registration conflict; retrying")
	}
	return Result{}, fmt.Errorf("register: conflict persisted after %d attempts: %w", s.attempts, lastErr)
}

func (s *Service) matched(ctx context.Context, q Queries, id string) (Result, error) {
	v, err := loadView(ctx, q, id)
	if err != nil {
		return Result{}, err
	}
	s.log.Debug().Str("device_id", id).Msg("registration matched existing device")
	return Result{Outcome: OutcomeMatched, Device: v}, nil
}

func (s *Service) runPlugin(ctx context.Context, req Request) (*pluginOutput, error) {
	strategy, known := s.registry.Lookup(req.DeviceType)
	out := &pluginOutput{strategy: strategy, known: known}
	if !known {
		return out, nil
	}

	out.details = map[string]string{}
	if d, ok := strategy.(plugin.Detailer); ok {
		details, err := d.Details(ctx, req.Attrs)
		if err != nil {
			return nil, fmt.Errorf("plugin %s details: %w", strategy.Kind(), err)
		}
		for k, v := range details {
			out.details[k] = v
		}
	}

	if req.Name != "" {
		return out, nil
	}
	if n, ok := strategy.(plugin.Namer); ok {
		// The namer sees the report with the plugin's details underneath it.
		view := make(plugin.Attributes, len(out.details)+len(req.Attrs))
		for k, v := range out.details {
			view[k] = v
		}
		for k, v := range req.Attrs {
			view[k] = v
		}
		if name, ok := n.DefaultName(ctx, view); ok && name != "" {
			out.name = &name
		}
	}
	return out, nil
}

// create runs the write set in one transaction. Identity is re-resolved under per-key locks, so
// a concurrent registration of the same device turns into a match here instead of a duplicate.
func (s *Service) create(ctx context.Context, req Request, out *pluginOutput) (Result, taxonomy.Created, error) {
	var res Result
	var created taxonomy.Created

	err := s.store.InTx(ctx, func(q Queries) error {
		for _, key := range s.identity.LockKeys(req.identity()) {
			if err := q.AcquireXactLock(ctx, key); err != nil {
				return fmt.Errorf("lock %s: %w", key, err)
			}
		}

		ref, err := s.identity.Resolve(ctx, q, req.identity())
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
		if ref != nil {
			res, err = s.matched(ctx, q, ref.ID)
			return err
		}

		tax, err := s.taxonomy.Resolve(ctx, q, req.names())
		if err != nil {
			return fmt.Errorf("resolve taxonomy: %w", err)
		}

		params := sqlcgen.CreateDeviceParams{Name: deviceName(req, out)}
		if tax != nil {
			params.ModelID = &tax.Model.ID
			params.DeviceTypeID = &tax.DeviceType.ID
			created = tax.Created
		}

		if out.known {
			ref, err := persistDetails(ctx, q, out)
			if err != nil {
				return err
			}
			params.PluginType, params.PluginID = plugin.Columns(ref)
		}

		d, err := q.CreateDevice(ctx, params)
		if err != nil {
			return fmt.Errorf("create device: %w", err)
		}

		for _, mac := range req.MACs {
			if err := q.InsertDeviceMAC(ctx, sqlcgen.InsertDeviceMACParams{DeviceID: d.ID, MAC: mac}); err != nil {
				return fmt.Errorf("insert mac %s: %w", mac, err)
			}
		}
		for _, ip := range req.IPs {
			if err := q.InsertDeviceIP(ctx, sqlcgen.InsertDeviceIPParams{DeviceID: d.ID, IP: ip}); err != nil {
				return fmt.Errorf("insert ip %s: %w", ip, err)
			}
		}

		v, err := loadView(ctx, q, d.ID)
		if err != nil {
			return err
		}
		res = Result{Outcome: OutcomeCreated, Device: v}
		return nil
	})
	if err != nil {
		return Result{}, taxonomy.Created{}, err
	}
	return res, created, nil
}

func persistDetails(ctx context.Context, q Queries, out *pluginOutput) (plugin.DetailRef, error) {
	kind := out.strategy.Kind()
	id, err := q.CreatePluginDetail(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("create %s detail: %w", kind, err)
	}

	keys := make([]string, 0, len(out.details))
	for k := range out.details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := q.UpsertCharacteristic(ctx, sqlcgen.Characteristic{PluginID: id, Key: k, Value: out.details[k]}); err != nil {
			return nil, fmt.Errorf("store characteristic %s: %w", k, err)
		}
	}
	return plugin.Specific{Kind: kind, ID: id}, nil
}

// deviceName: an explicit name wins, then the plugin default, else none.
func deviceName(req Request, out *pluginOutput) *string {
	if req.Name != "" {
		name := req.Name
		return &name
	}
	return out.name
}

func (s *Service) recordTaxonomy(c taxonomy.Created) {
	if c.Brand {
		s.metrics.IncTaxonomyRowCreated("brand")
	}
	if c.Model {
		s.metrics.IncTaxonomyRowCreated("model")
	}
	if c.DeviceType {
		s.metrics.IncTaxonomyRowCreated("device_type")
	}
}

// Get loads a device view by id.
func (s *Service) Get(ctx context.Context, id string) (DeviceView, error) {
	return loadView(ctx, s.store.Read(), id)
}

