package zcl

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameEncodeClusterCommand(t *testing.T) {
	f := Frame{
		Header: Header{
			ClusterSpecific:        true,
			DisableDefaultResponse: true,
			TSN:                    7,
			CommandID:              0x02,
		},
		Payload: []byte{0xAA},
	}
	want := []byte{0x11, 0x07, 0x02, 0xAA}
	if got := f.Encode(); !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}
}

func TestFrameManufacturerSpecificRoundTrip(t *testing.T) {
	f := Frame{
		Header: Header{
			ServerToClient:   true,
			ManufacturerCode: 0x115F,
			TSN:              0x42,
			CommandID:        FoundationReportAttributes,
		},
		Payload: []byte{0x7D, 0x02, 0x20, 0x01},
	}
	enc := f.Encode()
	if enc[0] != FrameManufacturer|FrameServerToClient {
		t.Fatalf("frame control = 0x%02X", enc[0])
	}
	got, err := DecodeFrame(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.ManufacturerCode != 0x115F || got.TSN != 0x42 || got.CommandID != FoundationReportAttributes {
		t.Errorf("header = %+v", got.Header)
	}
	if got.Direction() != DirectionToClient {
		t.Errorf("direction = %s", got.Direction())
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("payload = %X", got.Payload)
	}
}

func TestDecodeFrameShort(t *testing.T) {
	for _, data := range [][]byte{nil, {0x01, 0x02}, {0x04, 0x5F, 0x11, 0x01}} {
		if _, err := DecodeFrame(data); !errors.Is(err, ErrShortFrame) {
			t.Errorf("DecodeFrame(%X) err = %v, want ErrShortFrame", data, err)
		}
	}
}

func TestParseReadAttributesResponse(t *testing.T) {
	data := []byte{
		0x76, 0x02, 0x00, TypeOctetStr, 0x02, 0x04, 0x3E,
		0x7D, 0x02, ZCLStatusUnsupportedAttr,
		0x7D, 0x02, 0x00, TypeUint8, 0x01,
	}
	recs, err := ParseReadAttributesResponse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if !bytes.Equal(recs[0].Value.([]byte), []byte{0x04, 0x3E}) {
		t.Errorf("rec0 = %+v", recs[0])
	}
	if recs[1].Status != ZCLStatusUnsupportedAttr || recs[1].Value != nil {
		t.Errorf("rec1 = %+v", recs[1])
	}
	if recs[2].Value.(uint8) != 1 {
		t.Errorf("rec2 = %+v", recs[2])
	}
}

func TestParseReportAttributes(t *testing.T) {
	recs, err := ParseReportAttributes([]byte{0x76, 0x02, TypeOctetStr, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].AttrID != 0x0276 || len(recs[0].Value.([]byte)) != 0 {
		t.Errorf("recs = %+v", recs)
	}
	if _, err := ParseReportAttributes([]byte{0x76, 0x02}); err == nil {
		t.Error("expected truncation error")
	}
}

func TestWriteAttributesPayload(t *testing.T) {
	got, err := WriteAttributesPayload(AttributeRecord{AttrID: 0x027D, DataType: TypeUint8, Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x7D, 0x02, TypeUint8, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}
}

func TestParseWriteAttributesResponse(t *testing.T) {
	st, err := ParseWriteAttributesResponse([]byte{ZCLStatusSuccess})
	if err != nil || len(st) != 1 || st[0].Status != ZCLStatusSuccess {
		t.Errorf("single status: %+v, %v", st, err)
	}
	st, err = ParseWriteAttributesResponse([]byte{ZCLStatusReadOnly, 0x76, 0x02})
	if err != nil || len(st) != 1 || st[0].AttrID != 0x0276 {
		t.Errorf("per-attr status: %+v, %v", st, err)
	}
}
