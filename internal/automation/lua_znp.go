//go:build !no_automation

package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"znp-host/internal/znp"
)

// registerZNPModule installs the `znp` global table.
func registerZNPModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"on":       func(L *lua.LState) int { return znpOn(L, vm) },
		"on_event": func(L *lua.LState) int { return znpOnEvent(L, vm) },
		"request":  func(L *lua.LState) int { return znpRequest(L, vm, e) },
		"log":      func(L *lua.LState) int { return znpLog(L, vm, e) },
	})
	L.SetGlobal("znp", mod)
}

// znp.on(subsys, cmd, fn)
func znpOn(L *lua.LState, vm *scriptVM) int {
	sub, anySub, err := parseFilter(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	h := handler{subsys: sub, anySub: anySub, command: L.CheckString(2), fn: L.CheckFunction(3)}
	if err := vm.addHandler(h); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// znp.on_event(type, fn)
func znpOnEvent(L *lua.LState, vm *scriptVM) int {
	h := handler{event: L.CheckString(1), fn: L.CheckFunction(2)}
	if err := vm.addHandler(h); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// znp.request(subsys, cmd, params [, timeout_ms]) returns the response
// payload, or nil and an error message.
func znpRequest(L *lua.LState, vm *scriptVM, e *Engine) int {
	sub, anySub, err := parseFilter(L.CheckString(1))
	if err != nil || anySub {
		L.ArgError(1, "unknown subsystem")
		return 0
	}
	name := L.CheckString(2)
	params := znp.Params{}
	if tbl := L.OptTable(3, nil); tbl != nil {
		if m, ok := luaToGo(tbl).(map[string]any); ok {
			params = m
		}
	}
	timeout := requestTimeout
	if ms := L.OptInt(4, 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	fail := func(err error) int {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	if e.req == nil {
		return fail(errors.New("no driver attached"))
	}

	ctx, cancel := context.WithTimeout(vm.ctx, timeout)
	defer cancel()
	msg, err := e.req.Request(ctx, sub, name, params)
	if err != nil {
		e.logger.Warn("script request failed", "id", vm.id, "cmd", sub.String()+":"+name, "err", err)
		return fail(err)
	}
	L.Push(goToLua(L, map[string]any(msg.Params)))
	return 1
}

// znp.log(msg)
func znpLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.capture {
		vm.logs = append(vm.logs, msg)
	}
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}

// goToLua converts a decoded payload value to Lua. Byte slices and numeric
// lists become arrays; structured list entries go through their JSON form.
func goToLua(L *lua.LState, v any) lua.LValue {
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
	case uint64:
		return lua.LNumber(val)
	case []byte:
		t := L.CreateTable(len(val), 0)
		for i, b := range val {
			t.RawSetInt(i+1, lua.LNumber(b))
		}
		return t
	case znp.Uint8List:
		return goToLua(L, []byte(val))
	case []uint16:
		t := L.CreateTable(len(val), 0)
		for i, n := range val {
			t.RawSetInt(i+1, lua.LNumber(n))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	}

	data, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprintf("%v", v))
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LString(string(data))
	}
	return goToLua(L, generic)
}

// luaToGo converts a Lua value to the shapes the parameter codec accepts:
// numbers as float64, arrays as []any, other tables as map[string]any.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, vv lua.LValue) {
			out[k.String()] = luaToGo(vv)
		})
		return out
	}
	return nil
}
