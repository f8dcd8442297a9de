package clusters

import "zigbee-go-converters/internal/zcl"

// Thermostat covers the standard attributes a Lumi TRV exposes next to its
// manufacturer-specific schedule.
var Thermostat = zcl.ClusterDef{
	ID:   0x0201,
	Name: "Thermostat",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "LocalTemperature", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0012, Name: "OccupiedHeatingSetpoint", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x001C, Name: "SystemMode", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}
