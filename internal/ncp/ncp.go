// Package ncp defines the Zigbee transport the converters talk through.
//
// SerialNCP speaks a reference framing (0x7E delimited, byte stuffed, CRC16)
// to a gateway that forwards raw ZCL frames. It is not the protocol of any
// shipping coordinator dongle; supporting a real stick (ZBOSS, EZSP, ZNP)
// means writing another NCP implementation behind the same interface.
package ncp

import (
	"context"

	"zigbee-go-converters/internal/zcl"
)

// NCP is the abstract interface for a Zigbee network co-processor.
type NCP interface {
	// ZCL
	ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]zcl.AttributeRecord, error)
	WriteAttributes(ctx context.Context, req WriteAttributesRequest) error
	SendCommand(ctx context.Context, req ClusterCommandRequest) error

	// Indication callbacks
	OnAttributeReport(handler func(AttributeReportEvent))
	OnClusterCommand(handler func(ClusterCommandEvent))

	// Lifecycle
	Close() error
}

// ReadAttributesRequest specifies which attributes to read.
type ReadAttributesRequest struct {
	DstAddr          uint16
	DstEP            uint8
	ClusterID        uint16
	ManufacturerCode uint16
	AttrIDs          []uint16
}

// WriteAttributesRequest specifies attributes to write.
type WriteAttributesRequest struct {
	DstAddr          uint16
	DstEP            uint8
	ClusterID        uint16
	ManufacturerCode uint16
	Records          []zcl.AttributeRecord
}

// ClusterCommandRequest sends a cluster-specific command.
type ClusterCommandRequest struct {
	DstAddr          uint16
	DstEP            uint8
	ClusterID        uint16
	CommandID        uint8
	ManufacturerCode uint16
	ServerToClient   bool
	Payload          []byte
}

// AttributeReportEvent is emitted for unsolicited attribute reports.
type AttributeReportEvent struct {
	SrcAddr          uint16
	SrcEP            uint8
	ClusterID        uint16
	ManufacturerCode uint16
	Records          []zcl.AttributeRecord
	LQI              uint8
	RSSI             int8
}

// ClusterCommandEvent is emitted for incoming cluster-specific commands.
type ClusterCommandEvent struct {
	SrcAddr          uint16
	SrcEP            uint8
	ClusterID        uint16
	CommandID        uint8
	ManufacturerCode uint16
	ServerToClient   bool
	Payload          []byte
	LQI              uint8
	RSSI             int8
}
