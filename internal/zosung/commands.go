package zosung

import (
	"fmt"

	"zigbee-go-converters/internal/zcl"
)

// Cluster IDs.
const (
	ClusterIRTransmit uint16 = 0xED00
	ClusterIRControl  uint16 = 0xE004
)

// Command names as registered for the two clusters.
const (
	NameCode00             = "zosungSendIRCode00"
	NameCode01             = "zosungSendIRCode01"
	NameCode02             = "zosungSendIRCode02"
	NameCode03             = "zosungSendIRCode03"
	NameCode04             = "zosungSendIRCode04"
	NameCode05             = "zosungSendIRCode05"
	NameCode03Resp         = "zosungSendIRCode03Resp"
	NameCode05Resp         = "zosungSendIRCode05Resp"
	NameControlIRCommand00 = "zosungControlIRCommand00"
)

// Command is one typed zosung command.
type Command interface {
	Name() string
	ClusterID() uint16
	CommandID() uint8
	// ServerToClient reports the ZCL direction bit the command travels with.
	ServerToClient() bool
	Encode() []byte
}

// Code00 announces a transfer of Length bytes. The metadata fields are opaque
// and echoed back in Code01.
type Code00 struct {
	Seq    uint16 `json:"seq"`
	Length uint32 `json:"length"`
	Unk1   uint32 `json:"unk1"`
	Unk2   uint16 `json:"unk2"`
	Unk3   uint8  `json:"unk3"`
	Cmd    uint8  `json:"cmd"`
	Unk4   uint16 `json:"unk4"`
}

// Code01 acknowledges a Code00.
type Code01 struct {
	Zero   uint8  `json:"zero"`
	Seq    uint16 `json:"seq"`
	Length uint32 `json:"length"`
	Unk1   uint32 `json:"unk1"`
	Unk2   uint16 `json:"unk2"`
	Unk3   uint8  `json:"unk3"`
	Cmd    uint8  `json:"cmd"`
	Unk4   uint16 `json:"unk4"`
}

// Code02 requests the chunk starting at Position.
type Code02 struct {
	Seq      uint16 `json:"seq"`
	Position uint32 `json:"position"`
	MaxLen   uint8  `json:"maxlen"`
}

// Code03 carries one chunk to the device.
type Code03 struct {
	Zero       uint8  `json:"zero"`
	Seq        uint16 `json:"seq"`
	Position   uint32 `json:"position"`
	MsgPart    []byte `json:"msgpart"`
	MsgPartCRC uint8  `json:"msgpartcrc"`
}

// Code03Resp carries one chunk from the device.
type Code03Resp struct {
	Zero       uint8  `json:"zero"`
	Seq        uint16 `json:"seq"`
	Position   uint32 `json:"position"`
	MsgPart    []byte `json:"msgpart"`
	MsgPartCRC uint8  `json:"msgpartcrc"`
}

// Code04 signals that every chunk has been transferred.
type Code04 struct {
	Zero0 uint8  `json:"zero0"`
	Seq   uint16 `json:"seq"`
	Zero1 uint16 `json:"zero1"`
}

// Code05 acknowledges a Code04 from the device.
type Code05 struct {
	Seq  uint16 `json:"seq"`
	Zero uint16 `json:"zero"`
}

// Code05Resp acknowledges our Code04.
type Code05Resp struct {
	Seq  uint16 `json:"seq"`
	Zero uint8  `json:"zero"`
}

// ControlIRCommand00 carries a JSON control document such as {"study":0}.
type ControlIRCommand00 struct {
	Data []byte `json:"data"`
}

func (Code00) Name() string             { return NameCode00 }
func (Code01) Name() string             { return NameCode01 }
func (Code02) Name() string             { return NameCode02 }
func (Code03) Name() string             { return NameCode03 }
func (Code03Resp) Name() string         { return NameCode03Resp }
func (Code04) Name() string             { return NameCode04 }
func (Code05) Name() string             { return NameCode05 }
func (Code05Resp) Name() string         { return NameCode05Resp }
func (ControlIRCommand00) Name() string { return NameControlIRCommand00 }

func (Code00) CommandID() uint8             { return 0x00 }
func (Code01) CommandID() uint8             { return 0x01 }
func (Code02) CommandID() uint8             { return 0x02 }
func (Code03) CommandID() uint8             { return 0x03 }
func (Code03Resp) CommandID() uint8         { return 0x03 }
func (Code04) CommandID() uint8             { return 0x04 }
func (Code05) CommandID() uint8             { return 0x05 }
func (Code05Resp) CommandID() uint8         { return 0x05 }
func (ControlIRCommand00) CommandID() uint8 { return 0x00 }

func (Code00) ClusterID() uint16             { return ClusterIRTransmit }
func (Code01) ClusterID() uint16             { return ClusterIRTransmit }
func (Code02) ClusterID() uint16             { return ClusterIRTransmit }
func (Code03) ClusterID() uint16             { return ClusterIRTransmit }
func (Code03Resp) ClusterID() uint16         { return ClusterIRTransmit }
func (Code04) ClusterID() uint16             { return ClusterIRTransmit }
func (Code05) ClusterID() uint16             { return ClusterIRTransmit }
func (Code05Resp) ClusterID() uint16         { return ClusterIRTransmit }
func (ControlIRCommand00) ClusterID() uint16 { return ClusterIRControl }

func (Code00) ServerToClient() bool             { return false }
func (Code01) ServerToClient() bool             { return false }
func (Code02) ServerToClient() bool             { return false }
func (Code03) ServerToClient() bool             { return false }
func (Code03Resp) ServerToClient() bool         { return true }
func (Code04) ServerToClient() bool             { return false }
func (Code05) ServerToClient() bool             { return false }
func (Code05Resp) ServerToClient() bool         { return true }
func (ControlIRCommand00) ServerToClient() bool { return false }

func (c Code00) Encode() []byte {
	w := zcl.NewWriter(16)
	w.Uint16(c.Seq)
	w.Uint32(c.Length)
	w.Uint32(c.Unk1)
	w.Uint16(c.Unk2)
	w.Uint8(c.Unk3)
	w.Uint8(c.Cmd)
	w.Uint16(c.Unk4)
	return w.Bytes()
}

func (c Code01) Encode() []byte {
	w := zcl.NewWriter(17)
	w.Uint8(c.Zero)
	w.Raw(Code00{Seq: c.Seq, Length: c.Length, Unk1: c.Unk1, Unk2: c.Unk2, Unk3: c.Unk3, Cmd: c.Cmd, Unk4: c.Unk4}.Encode())
	return w.Bytes()
}

func (c Code02) Encode() []byte {
	w := zcl.NewWriter(7)
	w.Uint16(c.Seq)
	w.Uint32(c.Position)
	w.Uint8(c.MaxLen)
	return w.Bytes()
}

func encodeChunk(zero uint8, seq uint16, pos uint32, part []byte, crc uint8) []byte {
	w := zcl.NewWriter(9 + len(part))
	w.Uint8(zero)
	w.Uint16(seq)
	w.Uint32(pos)
	w.OctetStr(part)
	w.Uint8(crc)
	return w.Bytes()
}

func (c Code03) Encode() []byte {
	return encodeChunk(c.Zero, c.Seq, c.Position, c.MsgPart, c.MsgPartCRC)
}

func (c Code03Resp) Encode() []byte {
	return encodeChunk(c.Zero, c.Seq, c.Position, c.MsgPart, c.MsgPartCRC)
}

func (c Code04) Encode() []byte {
	w := zcl.NewWriter(5)
	w.Uint8(c.Zero0)
	w.Uint16(c.Seq)
	w.Uint16(c.Zero1)
	return w.Bytes()
}

func (c Code05) Encode() []byte {
	w := zcl.NewWriter(4)
	w.Uint16(c.Seq)
	w.Uint16(c.Zero)
	return w.Bytes()
}

func (c Code05Resp) Encode() []byte {
	w := zcl.NewWriter(3)
	w.Uint16(c.Seq)
	w.Uint8(c.Zero)
	return w.Bytes()
}

func (c ControlIRCommand00) Encode() []byte {
	return append([]byte(nil), c.Data...)
}

// Decode parses the payload of the command registered under name.
func Decode(name string, payload []byte) (Command, error) {
	r := zcl.NewReader(payload)
	var cmd Command
	switch name {
	case NameCode00:
		cmd = Code00{
			Seq:    r.Uint16("seq"),
			Length: r.Uint32("length"),
			Unk1:   r.Uint32("unk1"),
			Unk2:   r.Uint16("unk2"),
			Unk3:   r.Uint8("unk3"),
			Cmd:    r.Uint8("cmd"),
			Unk4:   r.Uint16("unk4"),
		}
	case NameCode01:
		cmd = Code01{
			Zero:   r.Uint8("zero"),
			Seq:    r.Uint16("seq"),
			Length: r.Uint32("length"),
			Unk1:   r.Uint32("unk1"),
			Unk2:   r.Uint16("unk2"),
			Unk3:   r.Uint8("unk3"),
			Cmd:    r.Uint8("cmd"),
			Unk4:   r.Uint16("unk4"),
		}
	case NameCode02:
		cmd = Code02{
			Seq:      r.Uint16("seq"),
			Position: r.Uint32("position"),
			MaxLen:   r.Uint8("maxlen"),
		}
	case NameCode03:
		cmd = Code03{
			Zero:       r.Uint8("zero"),
			Seq:        r.Uint16("seq"),
			Position:   r.Uint32("position"),
			MsgPart:    r.OctetStr("msgpart"),
			MsgPartCRC: r.Uint8("msgpartcrc"),
		}
	case NameCode03Resp:
		cmd = Code03Resp{
			Zero:       r.Uint8("zero"),
			Seq:        r.Uint16("seq"),
			Position:   r.Uint32("position"),
			MsgPart:    r.OctetStr("msgpart"),
			MsgPartCRC: r.Uint8("msgpartcrc"),
		}
	case NameCode04:
		cmd = Code04{
			Zero0: r.Uint8("zero0"),
			Seq:   r.Uint16("seq"),
			Zero1: r.Uint16("zero1"),
		}
	case NameCode05:
		cmd = Code05{
			Seq:  r.Uint16("seq"),
			Zero: r.Uint16("zero"),
		}
	case NameCode05Resp:
		c := Code05Resp{Seq: r.Uint16("seq")}
		// Some firmware omits the trailing byte.
		if r.Remaining() > 0 {
			c.Zero = r.Uint8("zero")
		}
		cmd = c
	case NameControlIRCommand00:
		cmd = ControlIRCommand00{Data: r.Rest()}
	default:
		return nil, fmt.Errorf("zosung: unknown command %q", name)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return cmd, nil
}

// Checksum is the additive chunk checksum: the byte sum modulo 256.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return sum
}
