//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/store"
)

type call struct {
	op     string
	device string
	arg    interface{}
}

type fakeConverter struct {
	events  *coordinator.EventBus
	devices *coordinator.DeviceManager
	store   *store.MemoryStore
	calls   chan call
	err     error
}

func newFakeConverter(t *testing.T) *fakeConverter {
	t.Helper()
	dm, err := coordinator.NewDeviceManager([]coordinator.Device{
		{Name: "bedroom_trv", IEEE: "0x54ef441000aabbcc", ShortAddr: 0x1a2b, Endpoint: 1, Model: coordinator.ModelTRV},
		{Name: "living_room_ir", IEEE: "0x84fd27fffe000001", ShortAddr: 0x3c4d, Endpoint: 1, Model: coordinator.ModelIRBlaster},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fakeConverter{
		events:  coordinator.NewEventBus(testLogger()),
		devices: dm,
		store:   store.NewMemoryStore(),
		calls:   make(chan call, 16),
	}
}

func (f *fakeConverter) Events() *coordinator.EventBus       { return f.events }
func (f *fakeConverter) Devices() *coordinator.DeviceManager { return f.devices }
func (f *fakeConverter) Store() store.Store                  { return f.store }
func (f *fakeConverter) Context() context.Context            { return context.Background() }

func (f *fakeConverter) SendIRCode(_ context.Context, name, code string) (uint16, error) {
	f.calls <- call{"send", name, code}
	return 7, f.err
}

func (f *fakeConverter) LearnIRCode(_ context.Context, name string) error {
	f.calls <- call{"learn", name, nil}
	return f.err
}

func (f *fakeConverter) WriteSchedule(_ context.Context, name string, s schedule.Schedule) error {
	f.calls <- call{"write", name, s}
	return f.err
}

func (f *fakeConverter) SetScheduleEnabled(_ context.Context, name string, enabled bool) error {
	f.calls <- call{"enable", name, enabled}
	return f.err
}

func (f *fakeConverter) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for converter call")
		return call{}
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeConverter) {
	t.Helper()
	conv := newFakeConverter(t)
	return NewEngine(conv, newTestManager(t), testLogger()), conv
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"uint8", uint8(255), lua.LTNumber},
		{"uint16", uint16(1024), lua.LTNumber},
		{"days", []string{"mon", "tue"}, lua.LTTable},
		{"events", []schedule.Event{{Time: 480, Temperature: 21}}, lua.LTTable},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(`_v = {days={"mon"}, events={{time=480, temperature=21.5}}, empty={}}`); err != nil {
		t.Fatal(err)
	}
	m, ok := luaToGo(L.GetGlobal("_v")).(map[string]interface{})
	if !ok {
		t.Fatalf("luaToGo type = %T, want map", luaToGo(L.GetGlobal("_v")))
	}
	days, ok := m["days"].([]interface{})
	if !ok || len(days) != 1 || days[0] != "mon" {
		t.Errorf("days = %#v", m["days"])
	}
	events := m["events"].([]interface{})
	ev := events[0].(map[string]interface{})
	if ev["time"] != float64(480) || ev["temperature"] != 21.5 {
		t.Errorf("event = %#v", ev)
	}
	if empty, ok := m["empty"].([]interface{}); !ok || len(empty) != 0 {
		t.Errorf("empty = %#v, want empty slice", m["empty"])
	}
}

func TestMatchesHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler luaEventHandler
		event   coordinator.Event
		want    bool
	}{
		{"type and device", luaEventHandler{eventType: "schedule_settings", device: "bedroom_trv"},
			coordinator.Event{Type: "schedule_settings", Device: "bedroom_trv"}, true},
		{"wrong type", luaEventHandler{eventType: "schedule_settings"},
			coordinator.Event{Type: "learned_ir_code", Device: "bedroom_trv"}, false},
		{"wrong device", luaEventHandler{eventType: "learned_ir_code", device: "living_room_ir"},
			coordinator.Event{Type: "learned_ir_code", Device: "kitchen_ir"}, false},
		{"any device", luaEventHandler{eventType: "learned_ir_code"},
			coordinator.Event{Type: "learned_ir_code", Device: "kitchen_ir"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.RunLuaCode(`
zigbee.log("hello")
system.log("warn", "careful")
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "hello" || res.Logs[1] != "[warn] careful" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, code := range []string{`os.exit(1)`, `io.open("/etc/passwd")`, `require("x")`} {
		if res := e.RunLuaCode(code); res.OK {
			t.Errorf("%s: ran, want error", code)
		}
	}
}

func TestRunLuaCodeTimeout(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.RunLuaCode(`while true do end`)
	if res.OK {
		t.Fatal("infinite loop succeeded")
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("error = %q, want timeout", res.Error)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.RunLuaCode(`
zigbee.on("schedule_settings", {device="bedroom_trv"}, function(ev)
    zigbee.log(ev.type .. " " .. ev.device)
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "schedule_settings bedroom_trv" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestIRModule(t *testing.T) {
	e, conv := newTestEngine(t)

	res := e.RunLuaCode(`
local seq = ir.send("living_room_ir", "aGVsbG8=")
zigbee.log("seq " .. seq)
ir.learn("living_room_ir")
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if c := conv.next(t); c.op != "send" || c.device != "living_room_ir" || c.arg != "aGVsbG8=" {
		t.Errorf("call = %+v", c)
	}
	if c := conv.next(t); c.op != "learn" {
		t.Errorf("call = %+v, want learn", c)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "seq 7" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestIRModuleReturnsError(t *testing.T) {
	e, conv := newTestEngine(t)
	conv.err = errors.New("transfer in progress")

	res := e.RunLuaCode(`
local seq, err = ir.send("living_room_ir", "aGVsbG8=")
zigbee.log(tostring(seq) .. " " .. err)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "nil transfer in progress" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestScheduleModuleParseStringify(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.RunLuaCode(`
local s = schedule.parse("mon,tue|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0")
zigbee.log(s.days[2] .. " " .. s.events[2].time .. " " .. s.events[2].temperature)
zigbee.log(schedule.stringify(s))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"tue 1080 17", "mon,tue|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0"}
	if len(res.Logs) != 2 || res.Logs[0] != want[0] || res.Logs[1] != want[1] {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestScheduleModuleValidate(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.RunLuaCode(`
local ok, err = schedule.validate("mon|8:00,24.0|8:30,17.0|23:00,22.0|8:00,22.0")
zigbee.log(tostring(ok) .. ": " .. err)
zigbee.log(tostring(schedule.validate("mon|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0")))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"false: The individual times must be at least 1 hour apart", "true"}
	if len(res.Logs) != 2 || res.Logs[0] != want[0] || res.Logs[1] != want[1] {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestScheduleModuleSetTable(t *testing.T) {
	e, conv := newTestEngine(t)

	res := e.RunLuaCode(`
assert(schedule.set("bedroom_trv", {
    days = {"sat", "sun"},
    events = {
        {time = 480, temperature = 21},
        {time = 720, temperature = 18},
        {time = 1080, temperature = 21},
        {time = 1380, temperature = 17},
    },
}))
assert(schedule.enable("bedroom_trv", true))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}

	c := conv.next(t)
	s, ok := c.arg.(schedule.Schedule)
	if c.op != "write" || !ok {
		t.Fatalf("call = %+v, want write", c)
	}
	if strings.Join(s.Days, ",") != "sat,sun" || len(s.Events) != 4 || s.Events[3].Time != 1380 {
		t.Errorf("schedule = %+v", s)
	}
	if c := conv.next(t); c.op != "enable" || c.arg != true {
		t.Errorf("call = %+v, want enable true", c)
	}
}

func TestScheduleModuleSetRejectsShape(t *testing.T) {
	e, conv := newTestEngine(t)

	res := e.RunLuaCode(`
local ok, err = schedule.set("bedroom_trv", {days = {}, events = {}})
zigbee.log(tostring(ok) .. ": " .. err)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || !strings.HasPrefix(res.Logs[0], "nil: The schedule object must contain an array of days") {
		t.Errorf("logs = %q", res.Logs)
	}
	select {
	case c := <-conv.calls:
		t.Errorf("unexpected call %+v", c)
	default:
	}
}

func TestZigbeeDevicesAndProperty(t *testing.T) {
	e, conv := newTestEngine(t)
	if err := conv.store.UpdateState("living_room_ir", func(st *store.DeviceState) error {
		st.Properties = map[string]any{"learned_ir_code": "Y29kZQ=="}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	res := e.RunLuaCode(`
local devs = zigbee.devices()
zigbee.log(#devs .. " " .. devs[1].name .. " " .. devs[1].endpoint)
zigbee.log(zigbee.get_property("living_room_ir", "learned_ir_code"))
zigbee.log(tostring(zigbee.get_property("bedroom_trv", "schedule")))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"2 bedroom_trv 0x1A2B/1", "Y29kZQ==", "nil"}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestEngineDispatchesEvents(t *testing.T) {
	e, conv := newTestEngine(t)

	if _, err := e.manager.Save(&Script{
		ID:   "ir_on_schedule",
		Meta: ScriptMeta{Name: "IR on schedule", Enabled: true},
		LuaCode: `
zigbee.on("schedule_settings", {device="bedroom_trv"}, function(ev)
    ir.send("living_room_ir", ev.schedule_settings)
end)
`,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.manager.Save(&Script{
		ID:      "disabled",
		Meta:    ScriptMeta{Name: "Disabled", Enabled: false},
		LuaCode: `ir.learn("living_room_ir")`,
	}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	defer e.Stop()

	if !e.Running("ir_on_schedule") || e.Running("disabled") {
		t.Fatal("unexpected running set")
	}

	conv.events.Emit(coordinator.Event{
		Type:   coordinator.EventScheduleSettings,
		Device: "kitchen_trv",
		Data:   map[string]interface{}{"schedule_settings": "ignored"},
	})
	conv.events.Emit(coordinator.Event{
		Type:   coordinator.EventScheduleSettings,
		Device: "bedroom_trv",
		Data:   map[string]interface{}{"schedule_settings": "mon|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0"},
	})

	c := conv.next(t)
	if c.op != "send" || c.arg != "mon|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0" {
		t.Errorf("call = %+v", c)
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	e, _ := newTestEngine(t)

	s, err := e.manager.Save(&Script{Meta: ScriptMeta{Name: "Reload", Enabled: true}, LuaCode: `zigbee.log("x")`})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if !e.Running(s.ID) {
		t.Fatal("script not running after reload")
	}
	e.StopScript(s.ID)
	if e.Running(s.ID) {
		t.Fatal("script still running after stop")
	}

	s.LuaCode = `this is not lua`
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err == nil {
		t.Error("reload of broken script succeeded")
	}
	if e.Running(s.ID) {
		t.Error("broken script running")
	}
}

func TestCheckSyntax(t *testing.T) {
	if err := CheckSyntax(`zigbee.on("schedule", {}, function(ev) end)`); err != nil {
		t.Errorf("valid code: %v", err)
	}
	if err := CheckSyntax("function("); err == nil {
		t.Error("expected syntax error")
	}
}
