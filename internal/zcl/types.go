package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs used by this service.
const (
	TypeNoData   uint8 = 0x00
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeBitmap16 uint8 = 0x19
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint32   uint8 = 0x23
	TypeInt8     uint8 = 0x28
	TypeInt16    uint8 = 0x29
	TypeEnum8    uint8 = 0x30
	TypeOctetStr uint8 = 0x41
	TypeCharStr  uint8 = 0x42
)

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// length-prefixed and unknown types.
func TypeSize(typeID uint8) int {
	switch typeID {
	case TypeNoData:
		return 0
	case TypeBool, TypeUint8, TypeInt8, TypeEnum8, TypeBitmap8:
		return 1
	case TypeUint16, TypeInt16, TypeBitmap16:
		return 2
	case TypeUint32:
		return 4
	default:
		return -1
	}
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeNoData:
		return "nodata"
	case TypeBool:
		return "bool"
	case TypeBitmap8:
		return "map8"
	case TypeBitmap16:
		return "map16"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeEnum8:
		return "enum8"
	case TypeOctetStr:
		return "octstr"
	case TypeCharStr:
		return "string"
	default:
		return fmt.Sprintf("0x%02X", typeID)
	}
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go value
// and the number of bytes consumed. Octet strings decode to []byte.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	if typeID == TypeOctetStr || typeID == TypeCharStr {
		if len(data) < 1 {
			return nil, 0, fmt.Errorf("zcl: no length byte for %s", TypeName(typeID))
		}
		n := int(data[0])
		if n == 0xFF {
			return nil, 1, nil // invalid/unset
		}
		if len(data) < 1+n {
			return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", TypeName(typeID), n, len(data)-1)
		}
		if typeID == TypeCharStr {
			return string(data[1 : 1+n]), 1 + n, nil
		}
		b := make([]byte, n)
		copy(b, data[1:1+n])
		return b, 1 + n, nil
	}

	size := TypeSize(typeID)
	if size < 0 {
		return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("zcl: not enough data for type 0x%02X: need %d, have %d", typeID, size, len(data))
	}

	switch typeID {
	case TypeNoData:
		return nil, 0, nil
	case TypeBool:
		return data[0] != 0, 1, nil
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return data[0], 1, nil
	case TypeInt8:
		return int8(data[0]), 1, nil
	case TypeUint16, TypeBitmap16:
		return binary.LittleEndian.Uint16(data), 2, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data)), 2, nil
	case TypeUint32:
		return binary.LittleEndian.Uint32(data), 4, nil
	}
	return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
}

// EncodeValue encodes a Go value into ZCL wire format.
func EncodeValue(typeID uint8, val interface{}) ([]byte, error) {
	switch typeID {
	case TypeBool:
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeUint8, TypeEnum8, TypeBitmap8, TypeUint16, TypeBitmap16, TypeUint32:
		v, ok := toUint64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
		}
		size := TypeSize(typeID)
		if v > 1<<(8*uint(size))-1 {
			return nil, fmt.Errorf("zcl: value %d overflows %s", v, TypeName(typeID))
		}
		w := NewWriter(size)
		switch size {
		case 1:
			w.Uint8(uint8(v))
		case 2:
			w.Uint16(uint16(v))
		default:
			w.Uint32(uint32(v))
		}
		return w.Bytes(), nil

	case TypeInt8, TypeInt16:
		v, ok := toInt64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
		}
		if typeID == TypeInt8 {
			if v < math.MinInt8 || v > math.MaxInt8 {
				return nil, fmt.Errorf("zcl: value %d overflows int8", v)
			}
			return []byte{byte(int8(v))}, nil
		}
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("zcl: value %d overflows int16", v)
		}
		w := NewWriter(2)
		w.Uint16(uint16(int16(v)))
		return w.Bytes(), nil

	case TypeOctetStr, TypeCharStr:
		var b []byte
		switch v := val.(type) {
		case []byte:
			b = v
		case string:
			b = []byte(v)
		default:
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
		}
		if len(b) > 254 {
			return nil, fmt.Errorf("zcl: data too long for %s: %d (max 254)", TypeName(typeID), len(b))
		}
		w := NewWriter(1 + len(b))
		w.OctetStr(b)
		return w.Bytes(), nil
	}

	return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
}

func toUint64(v interface{}) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case int:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case int64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case float64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case float64:
		return int64(val), true
	}
	return 0, false
}
