//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	maxHandlersPerScript = 100
	commandTimeout       = 30 * time.Second
)

// registerZigbeeModule registers the `zigbee` global table in a Lua state.
func registerZigbeeModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return zigbeeOn(L, vm)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return zigbeeAfter(L, vm, e)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		vm.logf("info", L.CheckString(1))
		return 0
	}))
	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return zigbeeDevices(L, e)
	}))
	mod.RawSetString("get_property", L.NewFunction(func(L *lua.LState) int {
		return zigbeeGetProperty(L, e)
	}))

	L.SetGlobal("zigbee", mod)
}

// registerIRModule registers the `ir` global table.
func registerIRModule(L *lua.LState, e *Engine) {
	mod := L.NewTable()

	// ir.send(device, code) -> seq | nil, err
	mod.RawSetString("send", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		code := L.CheckString(2)

		ctx, cancel := e.commandContext(L)
		defer cancel()
		seq, err := e.conv.SendIRCode(ctx, name, code)
		if err != nil {
			return pushError(L, err)
		}
		L.Push(lua.LNumber(seq))
		return 1
	}))

	// ir.learn(device) -> true | nil, err
	mod.RawSetString("learn", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		ctx, cancel := e.commandContext(L)
		defer cancel()
		if err := e.conv.LearnIRCode(ctx, name); err != nil {
			return pushError(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	}))

	L.SetGlobal("ir", mod)
}

// zigbee.on(type, filter, callback)
func zigbeeOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.OptTable(2, L.NewTable())
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}
	if v := filterTable.RawGetString("device"); v != lua.LNil {
		h.device = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// zigbee.after(seconds, callback)
func zigbeeAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// zigbee.devices() returns a list of {name, ieee, model, endpoint}.
func zigbeeDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, dev := range e.conv.Devices().List() {
		d := L.NewTable()
		d.RawSetString("name", lua.LString(dev.Name))
		d.RawSetString("ieee", lua.LString(dev.IEEE))
		d.RawSetString("model", lua.LString(dev.Model))
		d.RawSetString("endpoint", lua.LString(dev.EndpointKey()))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// zigbee.get_property(device, property) returns the last stored value or nil.
func zigbeeGetProperty(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	prop := L.CheckString(2)

	st, err := e.conv.Store().GetState(name)
	if err != nil || st.Properties == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := st.Properties[prop]
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, v))
	return 1
}

// commandContext bounds a device operation by the VM context and the
// converter lifetime.
func (e *Engine) commandContext(L *lua.LState) (context.Context, context.CancelFunc) {
	parent := L.Context()
	if parent == nil {
		parent = e.conv.Context()
	}
	return context.WithTimeout(parent, commandTimeout)
}

// pushError follows the Lua convention of returning nil plus a message.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
