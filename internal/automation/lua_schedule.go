//go:build !no_automation

package automation

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"zigbee-go-converters/internal/schedule"
)

// registerScheduleModule registers the `schedule` global table.
//
//	schedule.parse(str)          -> table | nil, err
//	schedule.stringify(tbl)      -> string | nil, err
//	schedule.validate(tbl|str)   -> true | false, err
//	schedule.set(device, tbl|str) -> true | nil, err
//	schedule.enable(device, bool) -> true | nil, err
func registerScheduleModule(L *lua.LState, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("parse", L.NewFunction(func(L *lua.LState) int {
		s, err := schedule.Parse(L.CheckString(1))
		if err != nil {
			return pushError(L, err)
		}
		L.Push(scheduleToLua(L, s))
		return 1
	}))

	mod.RawSetString("stringify", L.NewFunction(func(L *lua.LState) int {
		s, err := scheduleArg(L, 1)
		if err != nil {
			return pushError(L, err)
		}
		L.Push(lua.LString(schedule.Stringify(s)))
		return 1
	}))

	mod.RawSetString("validate", L.NewFunction(func(L *lua.LState) int {
		s, err := scheduleArg(L, 1)
		if err == nil {
			err = schedule.Validate(s)
		}
		if err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		s, err := scheduleArg(L, 2)
		if err != nil {
			return pushError(L, err)
		}

		ctx, cancel := e.commandContext(L)
		defer cancel()
		if err := e.conv.WriteSchedule(ctx, name, s); err != nil {
			return pushError(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	}))

	mod.RawSetString("enable", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		enabled := L.ToBool(2)

		ctx, cancel := e.commandContext(L)
		defer cancel()
		if err := e.conv.SetScheduleEnabled(ctx, name, enabled); err != nil {
			return pushError(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	}))

	L.SetGlobal("schedule", mod)
}

// scheduleArg accepts either the string form or a {days=..., events=...}
// table at argument n.
func scheduleArg(L *lua.LState, n int) (schedule.Schedule, error) {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return schedule.Parse(string(v))
	case *lua.LTable:
		return schedule.FromValue(luaToGo(v))
	default:
		return schedule.Schedule{}, errors.New("schedule must be a string or a table")
	}
}

func scheduleToLua(L *lua.LState, s schedule.Schedule) *lua.LTable {
	t := L.NewTable()
	days := L.NewTable()
	for i, d := range s.Days {
		days.RawSetInt(i+1, lua.LString(d))
	}
	t.RawSetString("days", days)
	events := L.NewTable()
	for i, ev := range s.Events {
		events.RawSetInt(i+1, eventToLua(L, ev))
	}
	t.RawSetString("events", events)
	return t
}

func eventToLua(L *lua.LState, ev schedule.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("time", lua.LNumber(ev.Time))
	t.RawSetString("temperature", lua.LNumber(ev.Temperature))
	return t
}
