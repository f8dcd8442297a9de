package clusters

import "zigbee-go-converters/internal/zcl"

// ZosungIRTransmit is the Tuya/Zosung IR blaster transfer cluster. The device
// sends Code00..Code04 as client-to-server commands and answers our Code02 and
// Code04 with the server-to-client Code03/Code05 responses.
var ZosungIRTransmit = zcl.ClusterDef{
	ID:   0xED00,
	Name: "zosungIRTransmit",
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "zosungSendIRCode00", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "zosungSendIRCode01", Direction: zcl.DirectionToServer},
		{ID: 0x02, Name: "zosungSendIRCode02", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "zosungSendIRCode03", Direction: zcl.DirectionToServer},
		{ID: 0x04, Name: "zosungSendIRCode04", Direction: zcl.DirectionToServer},
		{ID: 0x05, Name: "zosungSendIRCode05", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "zosungSendIRCode03Resp", Direction: zcl.DirectionToClient},
		{ID: 0x05, Name: "zosungSendIRCode05Resp", Direction: zcl.DirectionToClient},
	},
}

// ZosungIRControl carries learn-mode control commands.
var ZosungIRControl = zcl.ClusterDef{
	ID:   0xE004,
	Name: "zosungIRControl",
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "zosungControlIRCommand00", Direction: zcl.DirectionToServer},
	},
}
