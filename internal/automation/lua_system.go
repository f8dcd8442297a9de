//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// now is replaced in tests.
var now = time.Now

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, vm *scriptVM) {
	mod := L.NewTable()

	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("time_between", L.NewFunction(systemTimeBetween))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		vm.logf(level, msg)
		return 0
	}))

	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	t := now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(t.Hour()))
	case "minute":
		L.Push(lua.LNumber(t.Minute()))
	case "second":
		L.Push(lua.LNumber(t.Second()))
	case "weekday":
		L.Push(lua.LNumber(t.Weekday()))
	case "day":
		L.Push(lua.LNumber(t.Day()))
	case "month":
		L.Push(lua.LNumber(t.Month()))
	case "year":
		L.Push(lua.LNumber(t.Year()))
	case "timestamp":
		L.Push(lua.LNumber(t.Unix()))
	case "time_str":
		L.Push(lua.LString(t.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(t.Format("2006-01-02")))
	case "minutes":
		// minutes since midnight, the unit schedule events use
		L.Push(lua.LNumber(t.Hour()*60 + t.Minute()))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from_hour, to_hour) handles ranges wrapping midnight.
func systemTimeBetween(L *lua.LState) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	hour := now().Hour()

	var result bool
	if from <= to {
		result = hour >= from && hour < to
	} else {
		result = hour >= from || hour < to
	}

	L.Push(lua.LBool(result))
	return 1
}
