// Package taxonomy finds or creates the brand, model and device type a device is classified under.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/sqlcgen"
)

// ErrIncomplete is returned when a device type is reported with only one of brand and model.
var ErrIncomplete = errors.New("taxonomy: device type needs both brand and model")

const defaultAttempts = 3

// Store is the find-or-create surface for the three taxonomy levels.
type Store interface {
	GetBrandByName(ctx context.Context, name string) (sqlcgen.Brand, error)
	InsertBrand(ctx context.Context, name string) (sqlcgen.Brand, error)
	GetModelByBrandAndName(ctx context.Context, arg sqlcgen.InsertModelParams) (sqlcgen.Model, error)
	InsertModel(ctx context.Context, arg sqlcgen.InsertModelParams) (sqlcgen.Model, error)
	GetDeviceTypeByModelAndName(ctx context.Context, arg sqlcgen.GetDeviceTypeByModelAndNameParams) (sqlcgen.DeviceType, error)
	InsertDeviceType(ctx context.Context, arg sqlcgen.InsertDeviceTypeParams) (sqlcgen.DeviceType, error)
}

type Names struct {
	Brand      string
	Model      string
	DeviceType string
}

func (n Names) normalized() Names {
	return Names{
		Brand:      strings.TrimSpace(n.Brand),
		Model:      strings.TrimSpace(n.Model),
		DeviceType: strings.TrimSpace(n.DeviceType),
	}
}

// Wanted reports whether resolving n would link the device to a device type.
func (n Names) Wanted() bool {
	n = n.normalized()
	return n.DeviceType != "" && n.Brand != "" && n.Model != ""
}

// Check applies the completeness policy without touching the store.
// No device type, or a device type with neither brand nor model, means a type-less device.
func Check(n Names) error {
	n = n.normalized()
	if n.DeviceType == "" {
		return nil
	}
	if (n.Brand == "") != (n.Model == "") {
		return ErrIncomplete
	}
	return nil
}

type Resolved struct {
	Brand      sqlcgen.Brand
	Model      sqlcgen.Model
	DeviceType sqlcgen.DeviceType
	Created    Created
}

// Created records which levels were inserted rather than found.
type Created struct {
	Brand      bool
	Model      bool
	DeviceType bool
}

type Resolver struct {
	attempts int
}

func NewResolver() *Resolver {
	return &Resolver{attempts: defaultAttempts}
}

// Resolve returns nil when no device type should be linked. Levels are resolved brand first.
// Concurrent callers with the same names converge on the same rows: an insert that loses the race
// does nothing and the row is re-selected.
func (r *Resolver) Resolve(ctx context.Context, q Store, names Names) (*Resolved, error) {
	if err := Check(names); err != nil {
		return nil, err
	}
	if !names.Wanted() {
		return nil, nil
	}
	n := names.normalized()

	var out Resolved
	var err error

	out.Brand, out.Created.Brand, err = findOrCreate(ctx, r.attempts,
		func(ctx context.Context) (sqlcgen.Brand, error) { return q.GetBrandByName(ctx, n.Brand) },
		func(ctx context.Context) (sqlcgen.Brand, error) { return q.InsertBrand(ctx, n.Brand) },
	)
	if err != nil {
		return nil, fmt.Errorf("brand %q: %w", n.Brand, err)
	}

	modelKey := sqlcgen.InsertModelParams{BrandID: out.Brand.ID, Name: n.Model}
	out.Model, out.Created.Model, err = findOrCreate(ctx, r.attempts,
		func(ctx context.Context) (sqlcgen.Model, error) { return q.GetModelByBrandAndName(ctx, modelKey) },
		func(ctx context.Context) (sqlcgen.Model, error) { return q.InsertModel(ctx, modelKey) },
	)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", n.Model, err)
	}

	typeKey := sqlcgen.GetDeviceTypeByModelAndNameParams{ModelID: out.Model.ID, Name: n.DeviceType}
	out.DeviceType, out.Created.DeviceType, err = findOrCreate(ctx, r.attempts,
		func(ctx context.Context) (sqlcgen.DeviceType, error) { return q.GetDeviceTypeByModelAndName(ctx, typeKey) },
		func(ctx context.Context) (sqlcgen.DeviceType, error) {
			return q.InsertDeviceType(ctx, sqlcgen.InsertDeviceTypeParams{
				ModelID:        out.Model.ID,
				Name:           n.DeviceType,
				Classification: plugin.NormalizeTag(n.DeviceType),
			})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("device type %q: %w", n.DeviceType, err)
	}

	return &out, nil
}

// findOrCreate selects, then inserts with ON CONFLICT DO NOTHING. An insert that returns no row
// lost a race to a concurrent writer, so the loop re-selects.
func findOrCreate[T any](
	ctx context.Context,
	attempts int,
	get func(context.Context) (T, error),
	insert func(context.Context) (T, error),
) (T, bool, error) {
	var zero T
	for i := 0; i < attempts; i++ {
		row, err := get(ctx)
		if err == nil {
			return row, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return zero, false, err
		}

		row, err = insert(ctx)
		if err == nil {
			return row, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return zero, false, err
		}
	}
	return zero, false, fmt.Errorf("find-or-create gave up after %d attempts", attempts)
}
