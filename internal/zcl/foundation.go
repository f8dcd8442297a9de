package zcl

import "fmt"

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	FoundationReadAttributes         uint8 = 0x00
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationWriteAttributes        uint8 = 0x02
	FoundationWriteAttributesResp    uint8 = 0x04
	FoundationReportAttributes       uint8 = 0x0A
	FoundationDefaultResponse        uint8 = 0x0B
)

// ZCL status codes
const (
	ZCLStatusSuccess         uint8 = 0x00
	ZCLStatusFailure         uint8 = 0x01
	ZCLStatusUnsupportedAttr uint8 = 0x86
	ZCLStatusInvalidValue    uint8 = 0x87
	ZCLStatusReadOnly        uint8 = 0x88
	ZCLStatusInvalidDataType uint8 = 0x8D
)

// AttributeRecord is one attribute in a read response, write request or report.
// Status is only meaningful for read responses.
type AttributeRecord struct {
	AttrID   uint16
	Status   uint8
	DataType uint8
	Value    interface{}
}

// StatusRecord is one entry of a write attributes response.
type StatusRecord struct {
	Status uint8
	AttrID uint16
}

// ReadAttributesPayload builds the payload of a Read Attributes command.
func ReadAttributesPayload(attrIDs ...uint16) []byte {
	w := NewWriter(2 * len(attrIDs))
	for _, id := range attrIDs {
		w.Uint16(id)
	}
	return w.Bytes()
}

// WriteAttributesPayload builds the payload of a Write Attributes command.
func WriteAttributesPayload(records ...AttributeRecord) ([]byte, error) {
	w := NewWriter(8 * len(records))
	for _, rec := range records {
		val, err := EncodeValue(rec.DataType, rec.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute 0x%04X: %w", rec.AttrID, err)
		}
		w.Uint16(rec.AttrID)
		w.Uint8(rec.DataType)
		w.Raw(val)
	}
	return w.Bytes(), nil
}

// ParseReadAttributesResponse decodes [attrID(2) status(1) (type(1) value)?]...
func ParseReadAttributesResponse(data []byte) ([]AttributeRecord, error) {
	var out []AttributeRecord
	for len(data) > 0 {
		if len(data) < 3 {
			return out, fmt.Errorf("zcl: truncated read attributes record")
		}
		rec := AttributeRecord{
			AttrID: uint16(data[0]) | uint16(data[1])<<8,
			Status: data[2],
		}
		data = data[3:]
		if rec.Status != ZCLStatusSuccess {
			out = append(out, rec)
			continue
		}
		n, err := decodeTyped(&rec, data)
		if err != nil {
			return out, err
		}
		data = data[n:]
		out = append(out, rec)
	}
	return out, nil
}

// ParseReportAttributes decodes [attrID(2) type(1) value]...
func ParseReportAttributes(data []byte) ([]AttributeRecord, error) {
	var out []AttributeRecord
	for len(data) > 0 {
		if len(data) < 3 {
			return out, fmt.Errorf("zcl: truncated attribute report")
		}
		rec := AttributeRecord{AttrID: uint16(data[0]) | uint16(data[1])<<8}
		n, err := decodeTyped(&rec, data[2:])
		if err != nil {
			return out, err
		}
		data = data[2+n:]
		out = append(out, rec)
	}
	return out, nil
}

// ParseWriteAttributesResponse decodes a Write Attributes Response. A single
// success byte means every write succeeded.
func ParseWriteAttributesResponse(data []byte) ([]StatusRecord, error) {
	if len(data) == 1 {
		return []StatusRecord{{Status: data[0]}}, nil
	}
	var out []StatusRecord
	for len(data) >= 3 {
		out = append(out, StatusRecord{
			Status: data[0],
			AttrID: uint16(data[1]) | uint16(data[2])<<8,
		})
		data = data[3:]
	}
	if len(data) != 0 {
		return out, fmt.Errorf("zcl: truncated write attributes response")
	}
	return out, nil
}

func decodeTyped(rec *AttributeRecord, data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("zcl: attribute 0x%04X missing data type", rec.AttrID)
	}
	rec.DataType = data[0]
	val, n, err := DecodeValue(rec.DataType, data[1:])
	if err != nil {
		return 0, fmt.Errorf("attribute 0x%04X: %w", rec.AttrID, err)
	}
	rec.Value = val
	return 1 + n, nil
}
