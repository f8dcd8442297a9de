package zcl

import (
	"errors"
	"fmt"
)

// Frame control bits.
const (
	FrameTypeGlobal        uint8 = 0x00
	FrameTypeCluster       uint8 = 0x01
	FrameManufacturer      uint8 = 0x04
	FrameServerToClient    uint8 = 0x08
	FrameDisableDefaultRsp uint8 = 0x10
)

// ErrShortFrame is returned when a frame is too small to hold a ZCL header.
var ErrShortFrame = errors.New("zcl: frame too short")

// Header is a decoded ZCL frame header.
type Header struct {
	ClusterSpecific        bool
	ServerToClient         bool
	DisableDefaultResponse bool
	ManufacturerCode       uint16 // non-zero sets the manufacturer-specific bit
	TSN                    uint8
	CommandID              uint8
}

// Direction returns the command direction carried by the frame.
func (h Header) Direction() CommandDirection {
	return DirectionOf(h.ServerToClient)
}

// Frame is a ZCL header plus command payload.
type Frame struct {
	Header
	Payload []byte
}

// Encode serializes the frame.
func (f Frame) Encode() []byte {
	var fc uint8
	if f.ClusterSpecific {
		fc |= FrameTypeCluster
	}
	if f.ManufacturerCode != 0 {
		fc |= FrameManufacturer
	}
	if f.ServerToClient {
		fc |= FrameServerToClient
	}
	if f.DisableDefaultResponse {
		fc |= FrameDisableDefaultRsp
	}
	w := NewWriter(5 + len(f.Payload))
	w.Uint8(fc)
	if f.ManufacturerCode != 0 {
		w.Uint16(f.ManufacturerCode)
	}
	w.Uint8(f.TSN)
	w.Uint8(f.CommandID)
	w.Raw(f.Payload)
	return w.Bytes()
}

// DecodeFrame parses a ZCL frame. The returned payload is a copy.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < 3 {
		return Frame{}, ErrShortFrame
	}
	fc := data[0]
	if fc&0x03 > FrameTypeCluster {
		return Frame{}, fmt.Errorf("zcl: reserved frame type %d", fc&0x03)
	}
	r := NewReader(data[1:])
	f := Frame{Header: Header{
		ClusterSpecific:        fc&FrameTypeCluster != 0,
		ServerToClient:         fc&FrameServerToClient != 0,
		DisableDefaultResponse: fc&FrameDisableDefaultRsp != 0,
	}}
	if fc&FrameManufacturer != 0 {
		f.ManufacturerCode = r.Uint16("manufacturer code")
	}
	f.TSN = r.Uint8("tsn")
	f.CommandID = r.Uint8("command id")
	if err := r.Err(); err != nil {
		return Frame{}, ErrShortFrame
	}
	f.Payload = r.Rest()
	return f, nil
}
