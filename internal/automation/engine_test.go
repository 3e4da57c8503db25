//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"znp-host/internal/coordinator"
	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type call struct {
	sub    unpi.Subsystem
	name   string
	params znp.Params
}

type fakeRequester struct {
	calls chan call
	rsp   znp.Params
	err   error
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{calls: make(chan call, 16)}
}

func (f *fakeRequester) Request(_ context.Context, sub unpi.Subsystem, name string, params znp.Params, _ ...znp.RequestOption) (*znp.Message, error) {
	f.calls <- call{sub, name, params}
	if f.err != nil {
		return nil, f.err
	}
	return &znp.Message{Type: unpi.SRSP, Subsystem: sub, Name: name, Params: f.rsp}, nil
}

func (f *fakeRequester) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no request")
		return call{}
	}
}

func (f *fakeRequester) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected request %s:%s", c.sub, c.name)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestEngine(t *testing.T, req Requester, scripts ...string) (*Engine, *coordinator.EventBus) {
	t.Helper()
	mgr := newTestManager(t)
	for i, code := range scripts {
		if _, err := mgr.Save(&Script{Meta: ScriptMeta{Name: "s" + string(rune('a'+i)), Enabled: true}, Code: code}); err != nil {
			t.Fatal(err)
		}
	}
	bus := coordinator.NewEventBus(testLogger())
	e := newEngine(bus, req, mgr, testLogger(), SystemConfig{})
	e.Start()
	t.Cleanup(e.Stop)
	return e, bus
}

func indication(sub unpi.Subsystem, name string, params znp.Params) coordinator.Event {
	return coordinator.Event{
		Type: coordinator.EventIndication,
		Data: &znp.Message{Type: unpi.AREQ, Subsystem: sub, Name: name, Params: params},
	}
}

func TestIndicationHandler(t *testing.T) {
	req := newFakeRequester()
	e, bus := newTestEngine(t, req, `
znp.on("zdo", "stateChangeInd", function(p, m)
  znp.request("UTIL", "ledControl", {ledid = 1, mode = p.state})
  znp.log(m.subsystem .. ":" .. m.command .. " " .. m.type)
end)`)
	if e.Running() != 1 {
		t.Fatalf("running = %d", e.Running())
	}

	bus.Emit(indication(unpi.ZDO, "stateChangeInd", znp.Params{"state": uint8(9)}))
	c := req.next(t)
	if c.sub != unpi.UTIL || c.name != "ledControl" {
		t.Fatalf("request = %s:%s", c.sub, c.name)
	}
	if c.params["mode"] != float64(9) || c.params["ledid"] != float64(1) {
		t.Errorf("params = %v", c.params)
	}

	bus.Emit(indication(unpi.ZDO, "endDeviceAnnceInd", nil))
	bus.Emit(indication(unpi.AF, "stateChangeInd", nil))
	bus.Emit(coordinator.Event{Type: coordinator.EventPermitJoin, Data: nil})
	req.none(t)
}

func TestWildcardHandler(t *testing.T) {
	req := newFakeRequester()
	_, bus := newTestEngine(t, req, `
znp.on("*", "*", function(p, m)
  znp.request("SYS", "ping", {})
end)`)

	bus.Emit(indication(unpi.AF, "incomingMsg", nil))
	bus.Emit(indication(unpi.ZDO, "stateChangeInd", nil))
	req.next(t)
	req.next(t)
}

func TestEventHandler(t *testing.T) {
	req := newFakeRequester()
	_, bus := newTestEngine(t, req, `
znp.on_event("device_announce", function(d, kind)
  if kind == "device_announce" then
    znp.request("ZDO", "activeEpReq", {dstaddr = d.short_address, nwkaddrofinterest = d.short_address})
  end
end)`)

	bus.Emit(coordinator.Event{Type: coordinator.EventDeviceAnnounce, Data: coordinator.DeviceEvent{
		IEEEAddress:  "0x00158d0001020304",
		ShortAddress: 0x1234,
	}})
	c := req.next(t)
	if c.name != "activeEpReq" || c.params["dstaddr"] != float64(0x1234) {
		t.Errorf("request = %s %v", c.name, c.params)
	}

	bus.Emit(coordinator.Event{Type: coordinator.EventDeviceJoined, Data: coordinator.DeviceEvent{}})
	req.none(t)
}

func TestHandlerErrorKeepsScriptRunning(t *testing.T) {
	req := newFakeRequester()
	_, bus := newTestEngine(t, req, `
local n = 0
znp.on("SYS", "resetInd", function(p)
  n = n + 1
  if n == 1 then error("boom") end
  znp.request("SYS", "version")
end)`)

	bus.Emit(indication(unpi.SYS, "resetInd", nil))
	bus.Emit(indication(unpi.SYS, "resetInd", nil))
	if c := req.next(t); c.name != "version" {
		t.Errorf("request = %s", c.name)
	}
}

func TestBadScriptNotStarted(t *testing.T) {
	e, _ := newTestEngine(t, newFakeRequester(), `znp.on("NOPE", "x", function() end)`, `this is not lua`)
	if e.Running() != 0 {
		t.Errorf("running = %d, want 0", e.Running())
	}
}

func TestReloadAndStop(t *testing.T) {
	req := newFakeRequester()
	e, bus := newTestEngine(t, req, `znp.on("SYS", "resetInd", function() znp.request("SYS", "ping") end)`)

	s, err := e.manager.Get("sa")
	if err != nil {
		t.Fatal(err)
	}
	s.Code = `znp.on("SYS", "resetInd", function() znp.request("SYS", "version") end)`
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript("sa"); err != nil {
		t.Fatal(err)
	}
	bus.Emit(indication(unpi.SYS, "resetInd", nil))
	if c := req.next(t); c.name != "version" {
		t.Errorf("after reload request = %s", c.name)
	}

	s.Meta.Enabled = false
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript("sa"); err != nil {
		t.Fatal(err)
	}
	if e.Running() != 0 {
		t.Fatalf("running = %d after disable", e.Running())
	}
	bus.Emit(indication(unpi.SYS, "resetInd", nil))
	req.none(t)

	if err := e.ReloadScript("missing"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("reload missing: %v", err)
	}
}

func TestRunLuaCode(t *testing.T) {
	req := newFakeRequester()
	req.rsp = znp.Params{"capabilities": uint16(0x0179), "nwkaddr": []uint16{1, 2}}
	e, _ := newTestEngine(t, req)

	res := e.RunLuaCode(`
local r, err = znp.request("sys", "ping")
znp.log(tostring(r.capabilities))
znp.log(tostring(#r.nwkaddr))
znp.on("SYS", "resetInd", function() znp.log("never") end)`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if want := []string{"377", "2"}; strings.Join(res.Logs, ",") != strings.Join(want, ",") {
		t.Errorf("logs = %v, want %v", res.Logs, want)
	}
	if c := req.next(t); c.sub != unpi.SYS || c.name != "ping" {
		t.Errorf("request = %s:%s", c.sub, c.name)
	}
}

func TestRunLuaCodeRequestError(t *testing.T) {
	req := newFakeRequester()
	req.err = &znp.StatusError{Command: "ZDO:mgmtPermitJoinReq", Status: 0xC2}
	e, _ := newTestEngine(t, req)

	res := e.RunLuaCode(`
local r, err = znp.request("ZDO", "mgmtPermitJoinReq", {})
if r == nil then znp.log(err) end`)
	if !res.OK || len(res.Logs) != 1 || !strings.Contains(res.Logs[0], "mgmtPermitJoinReq") {
		t.Errorf("result = %+v", res)
	}
}

func TestRunLuaCodeWithoutDriver(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	res := e.RunLuaCode(`local r, err = znp.request("SYS", "ping"); znp.log(err)`)
	if len(res.Logs) != 1 || res.Logs[0] != "no driver attached" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e, _ := newTestEngine(t, newFakeRequester())
	tests := []struct {
		name string
		code string
	}{
		{"syntax", `this is not lua`},
		{"runtime", `error("boom")`},
		{"bad subsystem", `znp.on("RADIO", "x", function() end)`},
		{"dofile removed", `dofile("/etc/passwd")`},
		{"io missing", `io.write("x")`},
		{"os missing", `os.exit(1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.RunLuaCode(tt.code)
			if res.OK || res.Error == "" {
				t.Errorf("result = %+v, want error", res)
			}
		})
	}
}

func TestHandlerLimit(t *testing.T) {
	e, _ := newTestEngine(t, newFakeRequester())
	res := e.RunLuaCode(`for i = 1, 101 do znp.on("*", "*", function() end) end`)
	if res.OK || !strings.Contains(res.Error, "too many handlers") {
		t.Errorf("result = %+v", res)
	}
}

func TestConcurrentDispatch(t *testing.T) {
	req := newFakeRequester()
	req.calls = make(chan call, 200)
	_, bus := newTestEngine(t, req, `
local count = 0
znp.on("AF", "incomingMsg", function(p)
  count = count + 1
  znp.request("SYS", "ping", {n = count})
end)`)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				bus.Emit(indication(unpi.AF, "incomingMsg", nil))
			}
		}()
	}
	wg.Wait()

	seen := make(map[float64]bool)
	for i := 0; i < 40; i++ {
		seen[req.next(t).params["n"].(float64)] = true
	}
	if len(seen) != 40 {
		t.Errorf("distinct counts = %d, want 40", len(seen))
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want string
	}{
		{"nil", nil, "nil"},
		{"bool", true, "true"},
		{"string", "0x00158d0001020304", "0x00158d0001020304"},
		{"uint8", uint8(255), "255"},
		{"uint16", uint16(1024), "1024"},
		{"uint32", uint32(100000), "100000"},
		{"float64", 3.5, "3.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).String(); got != tt.want {
				t.Errorf("goToLua(%v) = %s, want %s", tt.val, got, tt.want)
			}
		})
	}
}

func TestGoToLuaTables(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("bytes", goToLua(L, []byte{0xAA, 0xBB}))
	L.SetGlobal("list", goToLua(L, znp.Uint8List{1, 2, 3}))
	L.SetGlobal("rows", goToLua(L, []znp.RoutingEntry{{DstAddr: 0x1234, NextHop: 0x0001}}))
	L.SetGlobal("nested", goToLua(L, map[string]any{"a": []any{"x", uint8(1)}}))

	if err := L.DoString(`
assert(#bytes == 2 and bytes[1] == 170)
assert(#list == 3 and list[3] == 3)
assert(rows[1].dstAddr == 4660 and rows[1].nextHopNwkAddr == 1)
assert(nested.a[1] == "x" and nested.a[2] == 1)`); err != nil {
		t.Fatal(err)
	}
}

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(`v = {dstaddr = 4660, name = "x", on = true, eps = {1, 2}, empty = {}}`); err != nil {
		t.Fatal(err)
	}
	got, ok := luaToGo(L.GetGlobal("v")).(map[string]any)
	if !ok {
		t.Fatalf("luaToGo = %T", got)
	}
	if got["dstaddr"] != float64(4660) || got["name"] != "x" || got["on"] != true {
		t.Errorf("scalars = %v", got)
	}
	eps, ok := got["eps"].([]any)
	if !ok || len(eps) != 2 || eps[1] != float64(2) {
		t.Errorf("eps = %#v", got["eps"])
	}
	if m, ok := got["empty"].(map[string]any); !ok || len(m) != 0 {
		t.Errorf("empty = %#v", got["empty"])
	}
}
