package sqlcgen

type Brand struct {
	ID   string
	Name string
}

type Model struct {
	ID      string
	BrandID string
	Name    string
}

type DeviceType struct {
	ID             string
	ModelID        string
	Name           string
	Classification string
}

type Device struct {
	ID           string
	Name         *string
	ModelID      *string
	DeviceTypeID *string
	PluginType   *string
	PluginID     *string
}

type Characteristic struct {
	PluginID string
	Key      string
	Value    string
}

// DeviceTaxonomy is the brand/model/type path of a device type, flattened.
type DeviceTaxonomy struct {
	BrandID        string
	BrandName      string
	ModelID        string
	ModelName      string
	DeviceTypeID   string
	DeviceTypeName string
	Classification string
}

type RegistryCounts struct {
	Brands      int64
	Models      int64
	DeviceTypes int64
	Devices     int64
	MACs        int64
	IPs         int64
}
