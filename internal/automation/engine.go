//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/store"
)

const runTimeout = 5 * time.Second

// Converter is the coordinator surface scripts can drive.
type Converter interface {
	Events() *coordinator.EventBus
	Devices() *coordinator.DeviceManager
	Store() store.Store
	Context() context.Context

	SendIRCode(ctx context.Context, name, code string) (uint16, error)
	LearnIRCode(ctx context.Context, name string) error
	WriteSchedule(ctx context.Context, name string, s schedule.Schedule) error
	SetScheduleEnabled(ctx context.Context, name string, enabled bool) error
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a registered Lua callback for a specific event pattern.
type luaEventHandler struct {
	eventType string
	device    string // filter: only match this device (empty = any)
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// logf receives zigbee.log and system.log output.
	logf func(level, msg string)
}

// Engine manages Lua VMs and dispatches EventBus events to scripts.
type Engine struct {
	conv    Converter
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(conv Converter, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		conv:    conv,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the EventBus and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.conv.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from EventBus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// CheckSyntax parses code without running it.
func CheckSyntax(code string) error {
	if _, err := parse.Parse(strings.NewReader(code), "<script>"); err != nil {
		return fmt.Errorf("lua syntax: %w", err)
	}
	return nil
}

// Running reports whether the script with id has a live VM.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary sandboxed VM and captures its log
// output. Handlers registered with zigbee.on are invoked once with a
// synthetic event carrying only type and device.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logs  []string
		logMu sync.Mutex
	)
	vm := &scriptVM{
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		logf: func(level, msg string) {
			logMu.Lock()
			defer logMu.Unlock()
			if level == "info" {
				logs = append(logs, msg)
			} else {
				logs = append(logs, "["+level+"] "+msg)
			}
		},
	}
	L := e.newState(vm)
	defer L.Close()
	L.SetContext(ctx)

	fail := func(err error) *RunResult {
		msg := err.Error()
		if strings.Contains(msg, "context deadline exceeded") {
			msg = fmt.Sprintf("timeout (%s)", runTimeout)
		}
		return &RunResult{OK: false, Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := L.DoString(code); err != nil {
		return fail(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.device != "" {
			ev.RawSetString("device", lua.LString(h.device))
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return fail(err)
		}
	}
	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

// newState creates a sandboxed Lua state with every module registered.
func (e *Engine) newState(vm *scriptVM) *lua.LState {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	vm.state = L
	if vm.logf == nil {
		vm.logf = func(level, msg string) { e.scriptLog(level, msg) }
	}

	registerZigbeeModule(L, vm, e)
	registerIRModule(L, e)
	registerScheduleModule(L, e)
	registerSystemModule(L, vm)
	return L
}

func (e *Engine) scriptLog(level, msg string) {
	switch level {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := &scriptVM{
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	L := e.newState(vm)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	// The command loop owns L from here on.
	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent routes an EventBus event to all matching Lua handlers.
func (e *Engine) dispatchEvent(event coordinator.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			if vm.ctx.Err() != nil {
				break
			}
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "type", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event coordinator.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	return h.device == "" || h.device == event.Device
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event coordinator.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "type", event.Type, "err", err)
	}
}

// eventTable builds the Lua view of an event: type, device, time and every
// key of a map payload.
func eventTable(L *lua.LState, event coordinator.Event) *lua.LTable {
	t := L.NewTable()
	if data, ok := event.Data.(map[string]interface{}); ok {
		for k, v := range data {
			t.RawSetString(k, goToLua(L, v))
		}
	}
	t.RawSetString("type", lua.LString(event.Type))
	if event.Device != "" {
		t.RawSetString("device", lua.LString(event.Device))
	}
	if !event.Time.IsZero() {
		t.RawSetString("time", lua.LNumber(event.Time.Unix()))
	}
	return t
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case []schedule.Event:
		t := L.NewTable()
		for i, ev := range val {
			t.RawSetInt(i+1, eventToLua(L, ev))
		}
		return t
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value into the shapes encoding/json produces:
// tables with array entries become []interface{}, other tables
// map[string]interface{}, numbers float64.
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			arr := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]interface{})
		val.ForEach(func(k, vv lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				m[string(ks)] = luaToGo(vv)
			}
		})
		if len(m) == 0 {
			return []interface{}{}
		}
		return m
	default:
		return nil
	}
}
