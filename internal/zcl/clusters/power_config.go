package clusters

import "zigbee-go-converters/internal/zcl"

var PowerConfiguration = zcl.ClusterDef{
	ID:   0x0001,
	Name: "Power Configuration",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0020, Name: "BatteryVoltage", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0021, Name: "BatteryPercentageRemaining", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
	},
}
