package types

import (
	"encoding/json"
)

// Well-known config keys, "{module_name}.{config_name}".
const (
	ConfigChargerMode      = "ChargerMode.CurrentSet"
	ConfigDynamicLoadMode  = "DynamicLoadManager.CurrentSet"
	ConfigMaxCurrentMA     = "ChargerApp.ACCharging.maxCurrent_mA"
	ConfigHouseholdPowerW  = "ihal.household.PowerLimit_W"
	ConfigCountryName      = "product.countryName"
	ConfigInstallationType = "product.installationType"
)

const (
	configModuleNameField  = "module_name"
	configConfigNameField  = "config_name"
	configConfigValueField = "config_value"
)

// ConfigRecord is one element of the GET /configs response. Fields other than
// the module, name and value are kept as Metadata.
type ConfigRecord struct {
	ModuleName string                     `json:"module_name"`
	ConfigName string                     `json:"config_name"`
	Value      FlexString                 `json:"config_value"`
	Metadata   map[string]json.RawMessage `json:"metadata,omitempty"`
}

// Key returns the dotted lookup key for the record.
func (r ConfigRecord) Key() string {
	return r.ModuleName + "." + r.ConfigName
}

func (r *ConfigRecord) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var rec ConfigRecord
	for k, v := range fields {
		var err error
		switch k {
		case configModuleNameField:
			err = json.Unmarshal(v, &rec.ModuleName)
		case configConfigNameField:
			err = json.Unmarshal(v, &rec.ConfigName)
		case configConfigValueField:
			err = json.Unmarshal(v, &rec.Value)
		default:
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]json.RawMessage)
			}
			rec.Metadata[k] = v
		}
		if err != nil {
			return err
		}
	}
	*r = rec
	return nil
}

// ConfigSnapshot maps "{module}.{parameter}" to its record. It is never
// mutated after construction.
type ConfigSnapshot map[string]ConfigRecord

// Value returns the raw config value for key.
func (s ConfigSnapshot) Value(key string) (string, bool) {
	rec, ok := s[key]
	if !ok {
		return "", false
	}
	return string(rec.Value), true
}
