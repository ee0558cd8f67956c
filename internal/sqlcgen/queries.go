package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const acquireXactLock = `-- name: AcquireXactLock :exec
SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
`

// AcquireXactLock blocks until the transaction-scoped advisory lock for key is held.
// Outside a transaction the lock is released as soon as the statement finishes.
func (q *Queries) AcquireXactLock(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, acquireXactLock, key)
	return err
}

const insertBrand = `-- name: InsertBrand :one
INSERT INTO brands (name)
VALUES ($1)
ON CONFLICT (name) DO NOTHING
RETURNING id::text, name
`

// InsertBrand returns pgx.ErrNoRows when the brand already exists.
func (q *Queries) InsertBrand(ctx context.Context, name string) (Brand, error) {
	row := q.db.QueryRow(ctx, insertBrand, name)
	var i Brand
	err := row.Scan(&i.ID, &i.Name)
	return i, err
}

const getBrandByName = `-- name: GetBrandByName :one
SELECT id::text, name
FROM brands
WHERE name = $1
`

func (q *Queries) GetBrandByName(ctx context.Context, name string) (Brand, error) {
	row := q.db.QueryRow(ctx, getBrandByName, name)
	var i Brand
	err := row.Scan(&i.ID, &i.Name)
	return i, err
}

const insertModel = `-- name: InsertModel :one
INSERT INTO models (brand_id, name)
VALUES ($1::uuid, $2)
ON CONFLICT (brand_id, name) DO NOTHING
RETURNING id::text, brand_id::text, name
`

type InsertModelParams struct {
	BrandID string
	Name    string
}

// InsertModel returns pgx.ErrNoRows when the model already exists for the brand.
func (q *Queries) InsertModel(ctx context.Context, arg InsertModelParams) (Model, error) {
	row := q.db.QueryRow(ctx, insertModel, arg.BrandID, arg.Name)
	var i Model
	err := row.Scan(&i.ID, &i.BrandID, &i.Name)
	return i, err
}

const getModelByBrandAndName = `-- name: GetModelByBrandAndName :one
SELECT id::text, brand_id::text, name
FROM models
WHERE brand_id = $1::uuid
  AND name = $2
`

func (q *Queries) GetModelByBrandAndName(ctx context.Context, arg InsertModelParams) (Model, error) {
	row := q.db.QueryRow(ctx, getModelByBrandAndName, arg.BrandID, arg.Name)
	var i Model
	err := row.Scan(&i.ID, &i.BrandID, &i.Name)
	return i, err
}

const insertDeviceType = `-- name: InsertDeviceType :one
INSERT INTO device_types (model_id, name, classification)
VALUES ($1::uuid, $2, $3)
ON CONFLICT (model_id, name) DO NOTHING
RETURNING id::text, model_id::text, name, classification
`

type InsertDeviceTypeParams struct {
	ModelID        string
	Name           string
	Classification string
}

// InsertDeviceType returns pgx.ErrNoRows when the type already exists for the model.
func (q *Queries) InsertDeviceType(ctx context.Context, arg InsertDeviceTypeParams) (DeviceType, error) {
	row := q.db.QueryRow(ctx, insertDeviceType, arg.ModelID, arg.Name, arg.Classification)
	var i DeviceType
	err := row.Scan(&i.ID, &i.ModelID, &i.Name, &i.Classification)
	return i, err
}

const getDeviceTypeByModelAndName = `-- name: GetDeviceTypeByModelAndName :one
SELECT id::text, model_id::text, name, classification
FROM device_types
WHERE model_id = $1::uuid
  AND name = $2
`

type GetDeviceTypeByModelAndNameParams struct {
	ModelID string
	Name    string
}

func (q *Queries) GetDeviceTypeByModelAndName(ctx context.Context, arg GetDeviceTypeByModelAndNameParams) (DeviceType, error) {
	row := q.db.QueryRow(ctx, getDeviceTypeByModelAndName, arg.ModelID, arg.Name)
	var i DeviceType
	err := row.Scan(&i.ID, &i.ModelID, &i.Name, &i.Classification)
	return i, err
}

const getDeviceTaxonomy = `-- name: GetDeviceTaxonomy :one
SELECT b.id::text,
       b.name,
       m.id::text,
       m.name,
       dt.id::text,
       dt.name,
       dt.classification
FROM device_types dt
JOIN models m ON m.id = dt.model_id
JOIN brands b ON b.id = m.brand_id
WHERE dt.id = $1::uuid
`

func (q *Queries) GetDeviceTaxonomy(ctx context.Context, deviceTypeID string) (DeviceTaxonomy, error) {
	row := q.db.QueryRow(ctx, getDeviceTaxonomy, deviceTypeID)
	var i DeviceTaxonomy
	err := row.Scan(&i.BrandID, &i.BrandName, &i.ModelID, &i.ModelName, &i.DeviceTypeID, &i.DeviceTypeName, &i.Classification)
	return i, err
}

const createDevice = `-- name: CreateDevice :one
INSERT INTO devices (name, model_id, device_type_id, plugin_type, plugin_id)
VALUES ($1, $2::uuid, $3::uuid, $4, $5::uuid)
RETURNING id::text, name, model_id::text, device_type_id::text, plugin_type, plugin_id::text
`

type CreateDeviceParams struct {
	Name         *string
	ModelID      *string
	DeviceTypeID *string
	PluginType   *string
	PluginID     *string
}

func (q *Queries) CreateDevice(ctx context.Context, arg CreateDeviceParams) (Device, error) {
	row := q.db.QueryRow(ctx, createDevice, arg.Name, arg.ModelID, arg.DeviceTypeID, arg.PluginType, arg.PluginID)
	var i Device
	err := row.Scan(&i.ID, &i.Name, &i.ModelID, &i.DeviceTypeID, &i.PluginType, &i.PluginID)
	return i, err
}

const getDevice = `-- name: GetDevice :one
SELECT id::text, name, model_id::text, device_type_id::text, plugin_type, plugin_id::text
FROM devices
WHERE id = $1::uuid
`

func (q *Queries) GetDevice(ctx context.Context, id string) (Device, error) {
	row := q.db.QueryRow(ctx, getDevice, id)
	var i Device
	err := row.Scan(&i.ID, &i.Name, &i.ModelID, &i.DeviceTypeID, &i.PluginType, &i.PluginID)
	return i, err
}

const findDeviceIDByMAC = `-- name: FindDeviceIDByMAC :one
SELECT device_id::text
FROM macs
WHERE mac = $1::macaddr
LIMIT 1
`

func (q *Queries) FindDeviceIDByMAC(ctx context.Context, mac string) (string, error) {
	row := q.db.QueryRow(ctx, findDeviceIDByMAC, mac)
	var deviceID string
	err := row.Scan(&deviceID)
	return deviceID, err
}

const insertDeviceMAC = `-- name: InsertDeviceMAC :exec
INSERT INTO macs (device_id, mac)
VALUES ($1::uuid, $2::macaddr)
`

type InsertDeviceMACParams struct {
	DeviceID string
	MAC      string
}

// InsertDeviceMAC fails with a unique violation when the MAC already belongs to a device.
func (q *Queries) InsertDeviceMAC(ctx context.Context, arg InsertDeviceMACParams) error {
	_, err := q.db.Exec(ctx, insertDeviceMAC, arg.DeviceID, arg.MAC)
	return err
}

const insertDeviceIP = `-- name: InsertDeviceIP :exec
INSERT INTO ips (device_id, ip)
VALUES ($1::uuid, $2::inet)
ON CONFLICT (device_id, ip) DO NOTHING
`

type InsertDeviceIPParams struct {
	DeviceID string
	IP       string
}

func (q *Queries) InsertDeviceIP(ctx context.Context, arg InsertDeviceIPParams) error {
	_, err := q.db.Exec(ctx, insertDeviceIP, arg.DeviceID, arg.IP)
	return err
}

const listDeviceMACs = `-- name: ListDeviceMACs :many
SELECT mac::text
FROM macs
WHERE device_id = $1::uuid
ORDER BY created_at ASC, mac::text ASC
`

func (q *Queries) ListDeviceMACs(ctx context.Context, deviceID string) ([]string, error) {
	return q.listStrings(ctx, listDeviceMACs, deviceID)
}

const listDeviceIPs = `-- name: ListDeviceIPs :many
SELECT host(ip)
FROM ips
WHERE device_id = $1::uuid
ORDER BY created_at ASC, host(ip) ASC
`

func (q *Queries) ListDeviceIPs(ctx context.Context, deviceID string) ([]string, error) {
	return q.listStrings(ctx, listDeviceIPs, deviceID)
}

func (q *Queries) listStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createPluginDetail = `-- name: CreatePluginDetail :one
INSERT INTO plugin_details (kind)
VALUES ($1)
RETURNING id::text
`

func (q *Queries) CreatePluginDetail(ctx context.Context, kind string) (string, error) {
	row := q.db.QueryRow(ctx, createPluginDetail, kind)
	var id string
	err := row.Scan(&id)
	return id, err
}

const upsertCharacteristic = `-- name: UpsertCharacteristic :exec
INSERT INTO plugin_characteristics (plugin_id, key, value)
VALUES ($1::uuid, $2, $3)
ON CONFLICT (plugin_id, key) DO UPDATE SET value = EXCLUDED.value
`

func (q *Queries) UpsertCharacteristic(ctx context.Context, arg Characteristic) error {
	_, err := q.db.Exec(ctx, upsertCharacteristic, arg.PluginID, arg.Key, arg.Value)
	return err
}

const listCharacteristics = `-- name: ListCharacteristics :many
SELECT plugin_id::text, key, value
FROM plugin_characteristics
WHERE plugin_id = $1::uuid
ORDER BY key ASC
`

func (q *Queries) ListCharacteristics(ctx context.Context, pluginID string) ([]Characteristic, error) {
	rows, err := q.db.Query(ctx, listCharacteristics, pluginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Characteristic
	for rows.Next() {
		var i Characteristic
		if err := rows.Scan(&i.PluginID, &i.Key, &i.Value); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const findDeviceIDByCharacteristic = `-- name: FindDeviceIDByCharacteristic :one
SELECT d.id::text
FROM plugin_characteristics c
JOIN devices d ON d.plugin_id = c.plugin_id
WHERE d.plugin_type = $1
  AND c.key = $2
  AND c.value = $3
ORDER BY d.created_at ASC
LIMIT 1
`

type FindDeviceIDByCharacteristicParams struct {
	Kind  string
	Key   string
	Value string
}

func (q *Queries) FindDeviceIDByCharacteristic(ctx context.Context, arg FindDeviceIDByCharacteristicParams) (string, error) {
	row := q.db.QueryRow(ctx, findDeviceIDByCharacteristic, arg.Kind, arg.Key, arg.Value)
	var deviceID string
	err := row.Scan(&deviceID)
	return deviceID, err
}

const countRegistry = `-- name: CountRegistry :one
SELECT (SELECT count(*) FROM brands),
       (SELECT count(*) FROM models),
       (SELECT count(*) FROM device_types),
       (SELECT count(*) FROM devices),
       (SELECT count(*) FROM macs),
       (SELECT count(*) FROM ips)
`

func (q *Queries) CountRegistry(ctx context.Context) (RegistryCounts, error) {
	row := q.db.QueryRow(ctx, countRegistry)
	var i RegistryCounts
	err := row.Scan(&i.Brands, &i.Models, &i.DeviceTypes, &i.Devices, &i.MACs, &i.IPs)
	return i, err
}
