package registration

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hivemind/core-go/internal/sqlcgen"
)

// memState mirrors the registry tables and their unique constraints.
type memState struct {
	seq int

	brands map[string]sqlcgen.Brand      // name
	models map[string]sqlcgen.Model      // brand_id/name
	types  map[string]sqlcgen.DeviceType // model_id/name

	devices     map[string]sqlcgen.Device
	deviceOrder []string
	macOwner    map[string]string
	deviceMACs  map[string][]string
	deviceIPs   map[string][]string

	details map[string]string            // plugin_id -> kind
	chars   map[string]map[string]string // plugin_id -> key -> value
}

func newMemState() *memState {
	return &memState{
		brands:     map[string]sqlcgen.Brand{},
		models:     map[string]sqlcgen.Model{},
		types:      map[string]sqlcgen.DeviceType{},
		devices:    map[string]sqlcgen.Device{},
		macOwner:   map[string]string{},
		deviceMACs: map[string][]string{},
		deviceIPs:  map[string][]string{},
		details:    map[string]string{},
		chars:      map[string]map[string]string{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	c.seq = st.seq
	for k, v := range st.brands {
		c.brands[k] = v
	}
	for k, v := range st.models {
		c.models[k] = v
	}
	for k, v := range st.types {
		c.types[k] = v
	}
	for k, v := range st.devices {
		c.devices[k] = v
	}
	c.deviceOrder = append([]string(nil), st.deviceOrder...)
	for k, v := range st.macOwner {
		c.macOwner[k] = v
	}
	for k, v := range st.deviceMACs {
		c.deviceMACs[k] = append([]string(nil), v...)
	}
	for k, v := range st.deviceIPs {
		c.deviceIPs[k] = append([]string(nil), v...)
	}
	for k, v := range st.details {
		c.details[k] = v
	}
	for k, v := range st.chars {
		m := make(map[string]string, len(v))
		for kk, vv := range v {
			m[kk] = vv
		}
		c.chars[k] = m
	}
	return c
}

func (st *memState) id(prefix string) string {
	st.seq++
	return fmt.Sprintf("%s-%04d", prefix, st.seq)
}

// memStore runs transactions one at a time against a copy of the state and swaps it in on success.
type memStore struct {
	mu    sync.Mutex
	state *memState

	txCount int

	// beforeTx runs inside the transaction lock against the committed state, before fn.
	beforeTx func(st *memState)
	// failCreateDevice, when positive, makes that many CreateDevice calls fail with a unique violation.
	failCreateDevice int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (s *memStore) Read() Queries {
	return &memQueries{store: s}
}

func (s *memStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	if s.beforeTx != nil {
		s.beforeTx(s.state)
	}
	tx := s.state.clone()
	if err := fn(&memQueries{store: s, tx: tx}); err != nil {
		return err
	}
	s.state = tx
	return nil
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

type memQueries struct {
	store *memStore
	tx    *memState
}

// with runs f against the transaction state, or the committed state under the store lock.
func (q *memQueries) with(f func(st *memState)) {
	if q.tx != nil {
		f(q.tx)
		return
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	f(q.store.state)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func (q *memQueries) AcquireXactLock(context.Context, string) error { return nil }

func (q *memQueries) GetBrandByName(_ context.Context, name string) (out sqlcgen.Brand, err error) {
	q.with(func(st *memState) {
		b, ok := st.brands[name]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		out = b
	})
	return
}

func (q *memQueries) InsertBrand(_ context.Context, name string) (out sqlcgen.Brand, err error) {
	q.with(func(st *memState) {
		if _, ok := st.brands[name]; ok {
			err = pgx.ErrNoRows
			return
		}
		out = sqlcgen.Brand{ID: st.id("brand"), Name: name}
		st.brands[name] = out
	})
	return
}

func (q *memQueries) GetModelByBrandAndName(_ context.Context, arg sqlcgen.InsertModelParams) (out sqlcgen.Model, err error) {
	q.with(func(st *memState) {
		m, ok := st.models[arg.BrandID+"/"+arg.Name]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		out = m
	})
	return
}

func (q *memQueries) InsertModel(_ context.Context, arg sqlcgen.InsertModelParams) (out sqlcgen.Model, err error) {
	q.with(func(st *memState) {
		key := arg.BrandID + "/" + arg.Name
		if _, ok := st.models[key]; ok {
			err = pgx.ErrNoRows
			return
		}
		out = sqlcgen.Model{ID: st.id("model"), BrandID: arg.BrandID, Name: arg.Name}
		st.models[key] = out
	})
	return
}

func (q *memQueries) GetDeviceTypeByModelAndName(_ context.Context, arg sqlcgen.GetDeviceTypeByModelAndNameParams) (out sqlcgen.DeviceType, err error) {
	q.with(func(st *memState) {
		dt, ok := st.types[arg.ModelID+"/"+arg.Name]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		out = dt
	})
	return
}

func (q *memQueries) InsertDeviceType(_ context.Context, arg sqlcgen.InsertDeviceTypeParams) (out sqlcgen.DeviceType, err error) {
	q.with(func(st *memState) {
		key := arg.ModelID + "/" + arg.Name
		if _, ok := st.types[key]; ok {
			err = pgx.ErrNoRows
			return
		}
		out = sqlcgen.DeviceType{ID: st.id("type"), ModelID: arg.ModelID, Name: arg.Name, Classification: arg.Classification}
		st.types[key] = out
	})
	return
}

func (q *memQueries) GetDeviceTaxonomy(_ context.Context, deviceTypeID string) (out sqlcgen.DeviceTaxonomy, err error) {
	q.with(func(st *memState) {
		for _, dt := range st.types {
			if dt.ID != deviceTypeID {
				continue
			}
			for _, m := range st.models {
				if m.ID != dt.ModelID {
					continue
				}
				for _, b := range st.brands {
					if b.ID != m.BrandID {
						continue
					}
					out = sqlcgen.DeviceTaxonomy{
						BrandID: b.ID, BrandName: b.Name,
						ModelID: m.ID, ModelName: m.Name,
						DeviceTypeID: dt.ID, DeviceTypeName: dt.Name,
						Classification: dt.Classification,
					}
					return
				}
			}
		}
		err = pgx.ErrNoRows
	})
	return
}

func (q *memQueries) CreateDevice(_ context.Context, arg sqlcgen.CreateDeviceParams) (out sqlcgen.Device, err error) {
	if q.store.failCreateDevice > 0 {
		q.store.failCreateDevice--
		return sqlcgen.Device{}, uniqueViolation("devices_pkey")
	}
	q.with(func(st *memState) {
		out = sqlcgen.Device{
			ID:           st.id("device"),
			Name:         arg.Name,
			ModelID:      arg.ModelID,
			DeviceTypeID: arg.DeviceTypeID,
			PluginType:   arg.PluginType,
			PluginID:     arg.PluginID,
		}
		st.devices[out.ID] = out
		st.deviceOrder = append(st.deviceOrder, out.ID)
	})
	return
}

func (q *memQueries) GetDevice(_ context.Context, id string) (out sqlcgen.Device, err error) {
	q.with(func(st *memState) {
		d, ok := st.devices[id]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		out = d
	})
	return
}

func (q *memQueries) FindDeviceIDByMAC(_ context.Context, mac string) (out string, err error) {
	q.with(func(st *memState) {
		id, ok := st.macOwner[mac]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		out = id
	})
	return
}

func (q *memQueries) FindDeviceIDByCharacteristic(_ context.Context, arg sqlcgen.FindDeviceIDByCharacteristicParams) (out string, err error) {
	q.with(func(st *memState) {
		for _, id := range st.deviceOrder {
			d := st.devices[id]
			if d.PluginType == nil || *d.PluginType != arg.Kind || d.PluginID == nil {
				continue
			}
			if v, ok := st.chars[*d.PluginID][arg.Key]; ok && v == arg.Value {
				out = id
				return
			}
		}
		err = pgx.ErrNoRows
	})
	return
}

func (q *memQueries) InsertDeviceMAC(_ context.Context, arg sqlcgen.InsertDeviceMACParams) (err error) {
	q.with(func(st *memState) {
		if _, ok := st.macOwner[arg.MAC]; ok {
			err = uniqueViolation("macs_mac_key")
			return
		}
		st.macOwner[arg.MAC] = arg.DeviceID
		st.deviceMACs[arg.DeviceID] = append(st.deviceMACs[arg.DeviceID], arg.MAC)
	})
	return
}

func (q *memQueries) InsertDeviceIP(_ context.Context, arg sqlcgen.InsertDeviceIPParams) (err error) {
	q.with(func(st *memState) {
		for _, ip := range st.deviceIPs[arg.DeviceID] {
			if ip == arg.IP {
				return
			}
		}
		st.deviceIPs[arg.DeviceID] = append(st.deviceIPs[arg.DeviceID], arg.IP)
	})
	return
}

func (q *memQueries) ListDeviceMACs(_ context.Context, deviceID string) (out []string, err error) {
	q.with(func(st *memState) {
		out = append([]string{}, st.deviceMACs[deviceID]...)
	})
	return
}

func (q *memQueries) ListDeviceIPs(_ context.Context, deviceID string) (out []string, err error) {
	q.with(func(st *memState) {
		out = append([]string{}, st.deviceIPs[deviceID]...)
	})
	return
}

func (q *memQueries) CreatePluginDetail(_ context.Context, kind string) (out string, err error) {
	q.with(func(st *memState) {
		out = st.id("plugin")
		st.details[out] = kind
		st.chars[out] = map[string]string{}
	})
	return
}

func (q *memQueries) UpsertCharacteristic(_ context.Context, arg sqlcgen.Characteristic) (err error) {
	q.with(func(st *memState) {
		st.chars[arg.PluginID][arg.Key] = arg.Value
	})
	return
}

func (q *memQueries) ListCharacteristics(_ context.Context, pluginID string) (out []sqlcgen.Characteristic, err error) {
	q.with(func(st *memState) {
		for k, v := range st.chars[pluginID] {
			out = append(out, sqlcgen.Characteristic{PluginID: pluginID, Key: k, Value: v})
		}
	})
	return
}

type counts struct {
	Brands, Models, Types, Devices, MACs, IPs, Details int
}

func (s *memStore) counts() counts {
	st := s.snapshot()
	ips := 0
	for _, v := range st.deviceIPs {
		ips += len(v)
	}
	return counts{
		Brands:  len(st.brands),
		Models:  len(st.models),
		Types:   len(st.types),
		Devices: len(st.devices),
		MACs:    len(st.macOwner),
		IPs:     ips,
		Details: len(st.details),
	}
}
