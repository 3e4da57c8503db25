//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxExecOutput = 64 << 10

// SystemConfig holds settings of the `system` Lua module.
type SystemConfig struct {
	ExecAllowlist []string      // absolute paths scripts may run
	ExecTimeout   time.Duration // default 10s
}

// registerSystemModule installs the `system` global table.
func registerSystemModule(L *lua.LState, e *Engine) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"datetime":     func(L *lua.LState) int { return systemDatetime(L, e.now()) },
		"time_between": func(L *lua.LState) int { return systemTimeBetween(L, e.now()) },
		"exec":         func(L *lua.LState) int { return systemExec(L, e) },
	})
	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState, now time.Time) int {
	var v lua.LValue
	switch c := L.CheckString(1); c {
	case "hour":
		v = lua.LNumber(now.Hour())
	case "minute":
		v = lua.LNumber(now.Minute())
	case "second":
		v = lua.LNumber(now.Second())
	case "weekday":
		v = lua.LNumber(now.Weekday())
	case "day":
		v = lua.LNumber(now.Day())
	case "month":
		v = lua.LNumber(now.Month())
	case "year":
		v = lua.LNumber(now.Year())
	case "timestamp":
		v = lua.LNumber(now.Unix())
	case "time_str":
		v = lua.LString(now.Format(time.TimeOnly))
	case "date_str":
		v = lua.LString(now.Format(time.DateOnly))
	default:
		L.ArgError(1, "unknown component: "+c)
		return 0
	}
	L.Push(v)
	return 1
}

// system.time_between(from_hour, to_hour) is true when the current hour is
// in [from, to). A range with from > to wraps past midnight.
func systemTimeBetween(L *lua.LState, now time.Time) int {
	from, to := L.CheckInt(1), L.CheckInt(2)
	h := now.Hour()
	in := h >= from && h < to
	if from > to {
		in = h >= from || h < to
	}
	L.Push(lua.LBool(in))
	return 1
}

// system.exec(cmd) runs an allowlisted binary and returns its stdout, or
// an empty string when the command is refused or fails.
func systemExec(L *lua.LState, e *Engine) int {
	parts := strings.Fields(L.CheckString(1))
	if len(parts) == 0 {
		L.ArgError(1, "empty command")
		return 0
	}
	out, err := e.exec(parts[0], parts[1:])
	if err != nil {
		e.logger.Warn("exec refused", "cmd", parts[0], "err", err)
	}
	L.Push(lua.LString(out))
	return 1
}

var errNotAllowed = errors.New("not in allowlist")

func (e *Engine) exec(binary string, args []string) (string, error) {
	if !filepath.IsAbs(binary) || !slices.Contains(e.systemCfg.ExecAllowlist, binary) {
		return "", errNotAllowed
	}
	timeout := e.systemCfg.ExecTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stdout, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return "", err
	}
	if len(stdout) > maxExecOutput {
		stdout = stdout[:maxExecOutput]
	}
	return string(stdout), nil
}
