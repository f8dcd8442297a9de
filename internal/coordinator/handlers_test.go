package coordinator

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"zigbee-go-converters/internal/ncp"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/store"
	"zigbee-go-converters/internal/zcl"
	"zigbee-go-converters/internal/zcl/clusters"
	"zigbee-go-converters/internal/zosung"
)

type stubNCP struct {
	mu       sync.Mutex
	commands []ncp.ClusterCommandRequest
	writes   []ncp.WriteAttributesRequest
	reads    []ncp.ReadAttributesRequest
	readResp []zcl.AttributeRecord
	writeErr error

	onReport  func(ncp.AttributeReportEvent)
	onCommand func(ncp.ClusterCommandEvent)
}

func (s *stubNCP) ReadAttributes(_ context.Context, req ncp.ReadAttributesRequest) ([]zcl.AttributeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, req)
	return s.readResp, nil
}

func (s *stubNCP) WriteAttributes(_ context.Context, req ncp.WriteAttributesRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, req)
	return s.writeErr
}

func (s *stubNCP) SendCommand(_ context.Context, req ncp.ClusterCommandRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, req)
	return nil
}

func (s *stubNCP) OnAttributeReport(h func(ncp.AttributeReportEvent)) { s.onReport = h }
func (s *stubNCP) OnClusterCommand(h func(ncp.ClusterCommandEvent))   { s.onCommand = h }
func (s *stubNCP) Close() error                                       { return nil }

func (s *stubNCP) sent() []ncp.ClusterCommandRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ncp.ClusterCommandRequest(nil), s.commands...)
}

const (
	blasterAddr uint16 = 0x1234
	trvAddr     uint16 = 0x5678
)

type fixture struct {
	c      *Coordinator
	ncp    *stubNCP
	store  *store.MemoryStore
	events chan Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	dm, err := NewDeviceManager([]Device{
		{Name: "blaster", IEEE: "00:12:4B:00:12:34:AB:CD", ShortAddr: blasterAddr, Endpoint: 1, Model: ModelIRBlaster},
		{Name: "trv", ShortAddr: trvAddr, Endpoint: 1, Model: ModelTRV},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := zcl.NewRegistry(logger)
	clusters.RegisterAll(reg)
	st := store.NewMemoryStore()
	backend := &stubNCP{}
	f := &fixture{
		ncp:    backend,
		store:  st,
		events: make(chan Event, 32),
	}
	f.c = New(backend, st, st, reg, NewEventBus(logger), dm, logger)
	f.c.Events().OnAll(func(e Event) { f.events <- e })
	t.Cleanup(f.c.Stop)
	return f
}

func (f *fixture) deviceCommand(addr uint16, cmd zosung.Command) ncp.ClusterCommandEvent {
	return ncp.ClusterCommandEvent{
		SrcAddr:        addr,
		SrcEP:          1,
		ClusterID:      cmd.ClusterID(),
		CommandID:      cmd.CommandID(),
		ServerToClient: cmd.ServerToClient(),
		Payload:        cmd.Encode(),
	}
}

func (f *fixture) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-f.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNewDeviceManagerRejects(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
	}{
		{"missing name", []Device{{Model: ModelTRV}}},
		{"duplicate name", []Device{{Name: "a", ShortAddr: 1, Model: ModelTRV}, {Name: "a", ShortAddr: 2, Model: ModelTRV}}},
		{"duplicate address", []Device{{Name: "a", ShortAddr: 1, Model: ModelTRV}, {Name: "b", ShortAddr: 1, Model: ModelTRV}}},
		{"unknown model", []Device{{Name: "a", Model: "plug"}}},
		{"bad ieee", []Device{{Name: "a", IEEE: "xyz", Model: ModelTRV}}},
		{"topic wildcard", []Device{{Name: "a/b", Model: ModelTRV}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDeviceManager(tt.devices); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDeviceManagerLookup(t *testing.T) {
	dm, err := NewDeviceManager([]Device{
		{Name: "trv", IEEE: "00124B001234ABCD", ShortAddr: trvAddr, Model: ModelTRV},
	})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := dm.Get("trv")
	if !ok {
		t.Fatal("trv not found")
	}
	if d.Endpoint != 1 {
		t.Errorf("default endpoint = %d, want 1", d.Endpoint)
	}
	if d.IEEE != "0x00124b001234abcd" {
		t.Errorf("ieee = %q", d.IEEE)
	}
	if _, ok := dm.ByAddr(trvAddr, 1); !ok {
		t.Error("ByAddr miss")
	}
	if _, ok := dm.ByEndpoint(d.EndpointKey()); !ok {
		t.Error("ByEndpoint miss")
	}
	if _, err := dm.lookup("trv", ModelIRBlaster); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("lookup wrong model: %v", err)
	}
	if _, err := dm.lookup("nope", ModelTRV); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("lookup unknown: %v", err)
	}
}

func TestLearnIRCodeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.c.LearnIRCode(ctx, "blaster"); err != nil {
		t.Fatal(err)
	}
	sent := f.ncp.sent()
	if len(sent) != 1 || sent[0].ClusterID != zosung.ClusterIRControl || string(sent[0].Payload) != `{"study":0}` {
		t.Fatalf("learn start = %+v", sent)
	}

	code := []byte{0x10, 0x20, 0x30, 0x40}
	f.c.handleClusterCommand(f.deviceCommand(blasterAddr, zosung.Code00{Seq: 9, Length: uint32(len(code))}))
	f.c.handleClusterCommand(f.deviceCommand(blasterAddr, zosung.Code03Resp{
		Seq: 9, Position: 0, MsgPart: code, MsgPartCRC: zosung.Checksum(code),
	}))
	f.c.handleClusterCommand(f.deviceCommand(blasterAddr, zosung.Code05Resp{Seq: 9}))

	// study:0, Code01, Code02, Code04, study:1
	sent = f.ncp.sent()
	if len(sent) != 5 {
		t.Fatalf("sent %d commands, want 5", len(sent))
	}
	for _, s := range sent {
		if s.DstAddr != blasterAddr || s.DstEP != 1 {
			t.Errorf("command sent to 0x%04X/%d", s.DstAddr, s.DstEP)
		}
	}
	if string(sent[4].Payload) != `{"study":1}` {
		t.Errorf("last command payload = %q", sent[4].Payload)
	}

	e := f.nextEvent(t)
	if e.Type != EventLearnedIRCode || e.Device != "blaster" {
		t.Fatalf("event = %+v", e)
	}
	want := base64.StdEncoding.EncodeToString(code)
	data := e.Data.(map[string]interface{})
	if data["learned_ir_code"] != want {
		t.Errorf("learned code = %v, want %s", data["learned_ir_code"], want)
	}

	codes, err := f.c.LearnedCodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 1 || codes[0].Code != want || codes[0].Device != "blaster" || codes[0].ID == "" {
		t.Errorf("saved codes = %+v", codes)
	}
	st, err := f.store.GetState("blaster")
	if err != nil {
		t.Fatal(err)
	}
	if st.Properties["learned_ir_code"] != want {
		t.Errorf("state = %+v", st.Properties)
	}
}

func TestSendIRCodeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seq, err := f.c.SendIRCode(ctx, "blaster", "AAECAw==")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.c.PendingTransfer("blaster"); !ok {
		t.Fatal("no pending transfer after send")
	}

	f.c.handleClusterCommand(f.deviceCommand(blasterAddr, zosung.Code04{Seq: seq}))

	e := f.nextEvent(t)
	if e.Type != EventIRCodeSent || e.Device != "blaster" {
		t.Fatalf("event = %+v", e)
	}
	if _, ok := f.c.PendingTransfer("blaster"); ok {
		t.Error("transfer still pending after Code04")
	}
}

func TestTransferFailureEmitsEvent(t *testing.T) {
	f := newFixture(t)

	f.c.handleClusterCommand(f.deviceCommand(blasterAddr, zosung.Code03Resp{Seq: 1, MsgPart: []byte{1}, MsgPartCRC: 1}))

	e := f.nextEvent(t)
	if e.Type != EventIRTransferFailed || e.Device != "blaster" {
		t.Fatalf("event = %+v", e)
	}
	if len(f.ncp.sent()) != 0 {
		t.Error("commands emitted after failure")
	}
}

func TestIROperationsRequireBlaster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.c.SendIRCode(ctx, "trv", "AA=="); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("SendIRCode on trv: %v", err)
	}
	if err := f.c.LearnIRCode(ctx, "missing"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("LearnIRCode on missing: %v", err)
	}
}

func TestWriteSchedule(t *testing.T) {
	f := newFixture(t)
	s, err := schedule.Parse("mon,tue,wed,thu,fri|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.c.WriteSchedule(context.Background(), "trv", s); err != nil {
		t.Fatal(err)
	}
	if len(f.ncp.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(f.ncp.writes))
	}
	w := f.ncp.writes[0]
	if w.ClusterID != clusterLumi || w.ManufacturerCode != clusters.ManufacturerLumi || w.DstAddr != trvAddr {
		t.Errorf("write request = %+v", w)
	}
	rec := w.Records[0]
	if rec.AttrID != clusters.LumiAttrScheduleSettings || rec.DataType != zcl.TypeOctetStr {
		t.Errorf("record = %+v", rec)
	}
	buf, _ := rec.Value.([]byte)
	if len(buf) != schedule.BufferSize {
		t.Errorf("buffer length = %d", len(buf))
	}

	e := f.nextEvent(t)
	if e.Type != EventScheduleSettings {
		t.Fatalf("event = %+v", e)
	}
	st, _ := f.store.GetState("trv")
	if st.Properties["schedule_settings"] != schedule.Stringify(s) {
		t.Errorf("state = %+v", st.Properties)
	}
}

func TestWriteScheduleInvalidSendsNothing(t *testing.T) {
	f := newFixture(t)
	s, err := schedule.Parse("mon|8:00,24.0|8:30,17.0|23:00,22.0|6:00,22.0")
	if err != nil {
		t.Fatal(err)
	}
	err = f.c.WriteSchedule(context.Background(), "trv", s)
	var ve *schedule.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(f.ncp.writes) != 0 {
		t.Error("invalid schedule was written")
	}
}

func TestReadSchedule(t *testing.T) {
	f := newFixture(t)
	want, _ := schedule.Parse("sat,sun|7:00,21.5|12:00,20.0|18:00,22.0|23:00,18.0")
	buf, err := schedule.Write(want)
	if err != nil {
		t.Fatal(err)
	}
	f.ncp.readResp = []zcl.AttributeRecord{
		{AttrID: clusters.LumiAttrScheduleSettings, DataType: zcl.TypeOctetStr, Value: buf},
	}

	got, err := f.c.ReadSchedule(context.Background(), "trv")
	if err != nil {
		t.Fatal(err)
	}
	if schedule.Stringify(got) != schedule.Stringify(want) {
		t.Errorf("got %s, want %s", schedule.Stringify(got), schedule.Stringify(want))
	}
	if f.ncp.reads[0].ManufacturerCode != clusters.ManufacturerLumi {
		t.Errorf("read without manufacturer code")
	}
}

func TestReadScheduleUnset(t *testing.T) {
	f := newFixture(t)
	f.ncp.readResp = []zcl.AttributeRecord{
		{AttrID: clusters.LumiAttrScheduleSettings, DataType: zcl.TypeOctetStr, Value: []byte{}},
	}
	if _, err := f.c.ReadSchedule(context.Background(), "trv"); !errors.Is(err, ErrScheduleUnset) {
		t.Errorf("err = %v, want ErrScheduleUnset", err)
	}
}

func TestReadScheduleStatusError(t *testing.T) {
	f := newFixture(t)
	f.ncp.readResp = []zcl.AttributeRecord{
		{AttrID: clusters.LumiAttrScheduleSettings, Status: zcl.ZCLStatusUnsupportedAttr},
	}
	if _, err := f.c.ReadSchedule(context.Background(), "trv"); err == nil {
		t.Error("expected error")
	}
}

func TestSetScheduleEnabled(t *testing.T) {
	f := newFixture(t)
	if err := f.c.SetScheduleEnabled(context.Background(), "trv", true); err != nil {
		t.Fatal(err)
	}
	rec := f.ncp.writes[0].Records[0]
	if rec.AttrID != clusters.LumiAttrSchedule || rec.DataType != zcl.TypeUint8 || rec.Value != uint8(1) {
		t.Errorf("record = %+v", rec)
	}
	e := f.nextEvent(t)
	if e.Type != EventSchedule || e.Data.(map[string]interface{})["schedule"] != true {
		t.Errorf("event = %+v", e)
	}
}

func TestScheduleReports(t *testing.T) {
	f := newFixture(t)
	s, _ := schedule.Parse("mon|8:00,24.0|18:00,17.0|23:00,22.0|7:00,22.0")
	buf, _ := schedule.Write(s)

	f.c.handleAttributeReport(ncp.AttributeReportEvent{
		SrcAddr:   trvAddr,
		SrcEP:     1,
		ClusterID: clusterLumi,
		Records: []zcl.AttributeRecord{
			{AttrID: clusters.LumiAttrScheduleSettings, DataType: zcl.TypeOctetStr, Value: []byte{}},
			{AttrID: clusters.LumiAttrScheduleSettings, DataType: zcl.TypeOctetStr, Value: buf},
			{AttrID: clusters.LumiAttrSchedule, DataType: zcl.TypeUint8, Value: uint8(0)},
		},
	})

	e := f.nextEvent(t)
	if e.Type != EventScheduleSettings {
		t.Fatalf("first event = %s, want %s", e.Type, EventScheduleSettings)
	}
	if got := e.Data.(map[string]interface{})["schedule_settings"]; got != schedule.Stringify(s) {
		t.Errorf("schedule_settings = %v", got)
	}
	e = f.nextEvent(t)
	if e.Type != EventSchedule || e.Data.(map[string]interface{})["schedule"] != false {
		t.Errorf("second event = %+v", e)
	}
	select {
	case e := <-f.events:
		t.Errorf("unexpected event %+v", e)
	default:
	}
}

func TestDispatcherRoutesIndications(t *testing.T) {
	f := newFixture(t)
	f.c.Start()

	seq, err := f.c.SendIRCode(context.Background(), "blaster", "AA==")
	if err != nil {
		t.Fatal(err)
	}
	f.ncp.onCommand(f.deviceCommand(blasterAddr, zosung.Code04{Seq: seq}))

	e := f.nextEvent(t)
	if e.Type != EventIRCodeSent {
		t.Errorf("event = %+v", e)
	}
}
