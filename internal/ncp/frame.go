package ncp

import (
	"bufio"
	"errors"
	"fmt"

	"zigbee-go-converters/internal/zcl"
)

// Gateway serial framing: 0x7E | escaped(body | crc16 LE) | 0x7E.
// 0x7E and 0x7D inside a frame are sent as 0x7D, b^0x20.
const (
	frameFlag   = 0x7E
	frameEscape = 0x7D
	escapeXOR   = 0x20
	maxFrameLen = 512
)

// Body kinds.
const (
	kindDataReq    uint8 = 0x01 // host -> gateway: tsn addr(2) ep cluster(2) zcl...
	kindStatus     uint8 = 0x02 // gateway -> host: tsn status
	kindDataInd    uint8 = 0x81 // gateway -> host: addr(2) ep cluster(2) lqi rssi zcl...
	statusOK       uint8 = 0x00
	dataReqHdrLen        = 7
	dataIndHdrLen        = 8
	statusFrameLen       = 3
)

var (
	errBadCRC     = errors.New("ncp: frame crc mismatch")
	errFrameShort = errors.New("ncp: frame too short")
	errFrameLong  = errors.New("ncp: frame too long")
)

// --- CRC-16 reflected (poly=0x8408, init=0x0000, xorout=0x0000) ---

var crc16Table [256]uint16

func init() {
	const poly = 0x8408
	for i := range crc16Table {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		crc16Table[i] = crc
	}
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(b))&0xFF]
	}
	return crc
}

// encodeFrame wraps body for the wire.
func encodeFrame(body []byte) []byte {
	crc := crc16(body)
	raw := append(append([]byte(nil), body...), byte(crc), byte(crc>>8))
	out := make([]byte, 0, len(raw)+4)
	out = append(out, frameFlag)
	for _, b := range raw {
		if b == frameFlag || b == frameEscape {
			out = append(out, frameEscape, b^escapeXOR)
			continue
		}
		out = append(out, b)
	}
	return append(out, frameFlag)
}

// readFrame returns the next body with a valid CRC. Bytes before the first
// flag and empty frames between back-to-back flags are skipped.
func readFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == frameFlag {
			break
		}
	}

	var raw []byte
	escaped := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case b == frameFlag:
			if len(raw) == 0 {
				continue // back-to-back flags
			}
			return checkFrame(raw)
		case b == frameEscape:
			escaped = true
			continue
		case escaped:
			b ^= escapeXOR
			escaped = false
		}
		if len(raw) >= maxFrameLen {
			return nil, errFrameLong
		}
		raw = append(raw, b)
	}
}

func checkFrame(raw []byte) ([]byte, error) {
	if len(raw) < 3 {
		return nil, errFrameShort
	}
	body := raw[:len(raw)-2]
	want := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	if got := crc16(body); got != want {
		return nil, fmt.Errorf("%w: got 0x%04X, want 0x%04X", errBadCRC, got, want)
	}
	return body, nil
}

func encodeDataReq(tsn uint8, addr uint16, ep uint8, cluster uint16, f zcl.Frame) []byte {
	w := zcl.NewWriter(dataReqHdrLen + 8 + len(f.Payload))
	w.Uint8(kindDataReq)
	w.Uint8(tsn)
	w.Uint16(addr)
	w.Uint8(ep)
	w.Uint16(cluster)
	w.Raw(f.Encode())
	return w.Bytes()
}

// dataInd is a decoded kindDataInd body.
type dataInd struct {
	SrcAddr   uint16
	SrcEP     uint8
	ClusterID uint16
	LQI       uint8
	RSSI      int8
	Frame     zcl.Frame
}

func decodeDataInd(body []byte) (*dataInd, error) {
	if len(body) < dataIndHdrLen {
		return nil, errFrameShort
	}
	r := zcl.NewReader(body[1:])
	ind := &dataInd{
		SrcAddr:   r.Uint16("addr"),
		SrcEP:     r.Uint8("ep"),
		ClusterID: r.Uint16("cluster"),
		LQI:       r.Uint8("lqi"),
		RSSI:      int8(r.Uint8("rssi")),
	}
	f, err := zcl.DecodeFrame(r.Rest())
	if err != nil {
		return nil, err
	}
	ind.Frame = f
	return ind, nil
}
