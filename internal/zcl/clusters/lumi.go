package clusters

import "zigbee-go-converters/internal/zcl"

// ManufacturerLumi is the manufacturer code Lumi/Aqara devices expect on
// manuSpecificLumi frames.
const ManufacturerLumi uint16 = 0x115F

// Lumi attribute IDs used by the TRV converter.
const (
	LumiAttrScheduleSettings uint16 = 0x0276
	LumiAttrSchedule         uint16 = 0x027D
)

var ManuSpecificLumi = zcl.ClusterDef{
	ID:               0xFCC0,
	Name:             "manuSpecificLumi",
	ManufacturerCode: ManufacturerLumi,
	Attributes: []zcl.AttributeDef{
		{ID: LumiAttrScheduleSettings, Name: "schedule_settings", Type: zcl.TypeOctetStr, Access: zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport},
		{ID: LumiAttrSchedule, Name: "schedule", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport},
	},
}
