package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/core-go/internal/sqlcgen"
)

// memStore mimics the unique constraints of the taxonomy tables. racer, when set, runs before each
// insert and may create the row first, which is what a concurrent writer looks like to the resolver.
type memStore struct {
	brands  map[string]sqlcgen.Brand
	models  map[string]sqlcgen.Model
	types   map[string]sqlcgen.DeviceType
	nextID  int
	racer   func(s *memStore, level string)
	failGet error
}

func newMemStore() *memStore {
	return &memStore{
		brands: map[string]sqlcgen.Brand{},
		models: map[string]sqlcgen.Model{},
		types:  map[string]sqlcgen.DeviceType{},
	}
}

func (s *memStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *memStore) GetBrandByName(_ context.Context, name string) (sqlcgen.Brand, error) {
	if s.failGet != nil {
		return sqlcgen.Brand{}, s.failGet
	}
	if b, ok := s.brands[name]; ok {
		return b, nil
	}
	return sqlcgen.Brand{}, pgx.ErrNoRows
}

func (s *memStore) InsertBrand(_ context.Context, name string) (sqlcgen.Brand, error) {
	if s.racer != nil {
		s.racer(s, "brand")
	}
	if _, ok := s.brands[name]; ok {
		return sqlcgen.Brand{}, pgx.ErrNoRows
	}
	b := sqlcgen.Brand{ID: s.id("brand"), Name: name}
	s.brands[name] = b
	return b, nil
}

func (s *memStore) GetModelByBrandAndName(_ context.Context, arg sqlcgen.InsertModelParams) (sqlcgen.Model, error) {
	if m, ok := s.models[arg.BrandID+"/"+arg.Name]; ok {
		return m, nil
	}
	return sqlcgen.Model{}, pgx.ErrNoRows
}

func (s *memStore) InsertModel(_ context.Context, arg sqlcgen.InsertModelParams) (sqlcgen.Model, error) {
	if s.racer != nil {
		s.racer(s, "model")
	}
	key := arg.BrandID + "/" + arg.Name
	if _, ok := s.models[key]; ok {
		return sqlcgen.Model{}, pgx.ErrNoRows
	}
	m := sqlcgen.Model{ID: s.id("model"), BrandID: arg.BrandID, Name: arg.Name}
	s.models[key] = m
	return m, nil
}

func (s *memStore) GetDeviceTypeByModelAndName(_ context.Context, arg sqlcgen.GetDeviceTypeByModelAndNameParams) (sqlcgen.DeviceType, error) {
	if dt, ok := s.types[arg.ModelID+"/"+arg.Name]; ok {
		return dt, nil
	}
	return sqlcgen.DeviceType{}, pgx.ErrNoRows
}

func (s *memStore) InsertDeviceType(_ context.Context, arg sqlcgen.InsertDeviceTypeParams) (sqlcgen.DeviceType, error) {
	if s.racer != nil {
		s.racer(s, "device_type")
	}
	key := arg.ModelID + "/" + arg.Name
	if _, ok := s.types[key]; ok {
		return sqlcgen.DeviceType{}, pgx.ErrNoRows
	}
	dt := sqlcgen.DeviceType{ID: s.id("type"), ModelID: arg.ModelID, Name: arg.Name, Classification: arg.Classification}
	s.types[key] = dt
	return dt, nil
}

func TestCheck(t *testing.T) {
	cases := []struct {
		name  string
		names Names
		err   error
	}{
		{"nothing", Names{}, nil},
		{"brand and model without type", Names{Brand: "b", Model: "m"}, nil},
		{"type only", Names{DeviceType: "unknown"}, nil},
		{"full", Names{Brand: "b", Model: "m", DeviceType: "t"}, nil},
		{"type and brand", Names{Brand: "b", DeviceType: "t"}, ErrIncomplete},
		{"type and model", Names{Model: "m", DeviceType: "t"}, ErrIncomplete},
		{"blank brand counts as absent", Names{Brand: "  ", Model: "m", DeviceType: "t"}, ErrIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.names)
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestResolve_NoTypeMeansNoWrites(t *testing.T) {
	s := newMemStore()
	r := NewResolver()

	for _, n := range []Names{{}, {Brand: "b", Model: "m"}, {DeviceType: "unknown"}} {
		got, err := r.Resolve(context.Background(), s, n)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Empty(t, s.brands)
	assert.Empty(t, s.models)
	assert.Empty(t, s.types)
}

func TestResolve_IncompleteIsRejectedBeforeWrites(t *testing.T) {
	s := newMemStore()
	_, err := NewResolver().Resolve(context.Background(), s, Names{Brand: "b", DeviceType: "t"})
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, s.brands)
}

func TestResolve_CreatesThenReuses(t *testing.T) {
	s := newMemStore()
	r := NewResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, s, Names{Brand: " Brand 1 ", Model: "Model 1", DeviceType: "Type 1"})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, Created{Brand: true, Model: true, DeviceType: true}, first.Created)
	assert.Equal(t, "Brand 1", first.Brand.Name)
	assert.Equal(t, "type 1", first.DeviceType.Classification)

	again, err := r.Resolve(ctx, s, Names{Brand: "Brand 1", Model: "Model 1", DeviceType: "Type 1"})
	require.NoError(t, err)
	assert.Equal(t, Created{}, again.Created)
	assert.Equal(t, first.DeviceType.ID, again.DeviceType.ID)

	second, err := r.Resolve(ctx, s, Names{Brand: "Brand 1", Model: "Model 1", DeviceType: "Type 2"})
	require.NoError(t, err)
	assert.Equal(t, Created{DeviceType: true}, second.Created)
	assert.Equal(t, first.Model.ID, second.Model.ID)
	assert.NotEqual(t, first.DeviceType.ID, second.DeviceType.ID)

	otherBrand, err := r.Resolve(ctx, s, Names{Brand: "Brand 2", Model: "Model 1", DeviceType: "Type 1"})
	require.NoError(t, err)
	assert.Equal(t, Created{Brand: true, Model: true, DeviceType: true}, otherBrand.Created)
	assert.NotEqual(t, first.Model.ID, otherBrand.Model.ID)

	assert.Len(t, s.brands, 2)
	assert.Len(t, s.models, 2)
	assert.Len(t, s.types, 3)
}

func TestResolve_LosingTheInsertRaceReselects(t *testing.T) {
	s := newMemStore()
	raced := map[string]bool{}
	s.racer = func(s *memStore, level string) {
		if raced[level] {
			return
		}
		raced[level] = true
		racer := s.racer
		s.racer = nil
		defer func() { s.racer = racer }()

		ctx := context.Background()
		switch level {
		case "brand":
			_, _ = s.InsertBrand(ctx, "Acme")
		case "model":
			b := s.brands["Acme"]
			_, _ = s.InsertModel(ctx, sqlcgen.InsertModelParams{BrandID: b.ID, Name: "X1"})
		case "device_type":
			m := s.models[s.brands["Acme"].ID+"/X1"]
			_, _ = s.InsertDeviceType(ctx, sqlcgen.InsertDeviceTypeParams{ModelID: m.ID, Name: "Router", Classification: "router"})
		}
	}

	got, err := NewResolver().Resolve(context.Background(), s, Names{Brand: "Acme", Model: "X1", DeviceType: "Router"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Created{}, got.Created)
	assert.Len(t, s.brands, 1)
	assert.Len(t, s.models, 1)
	assert.Len(t, s.types, 1)
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	s := newMemStore()
	boom := errors.New("connection reset")
	s.failGet = boom

	_, err := NewResolver().Resolve(context.Background(), s, Names{Brand: "b", Model: "m", DeviceType: "t"})
	require.ErrorIs(t, err, boom)
}

func TestFindOrCreate_GivesUp(t *testing.T) {
	_, _, err := findOrCreate(context.Background(), 2,
		func(context.Context) (int, error) { return 0, pgx.ErrNoRows },
		func(context.Context) (int, error) { return 0, pgx.ErrNoRows },
	)
	require.Error(t, err)
}
