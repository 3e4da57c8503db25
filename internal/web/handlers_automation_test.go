//go:build !no_automation

package web

import (
	"net/http"
	"testing"

	"znp-host/internal/automation"
)

func setupAutomationServer(t *testing.T) (*testServer, *automation.Engine) {
	t.Helper()
	coord, st, stub := newTestCoordinator(t)
	mgr, err := automation.NewManager(t.TempDir(), newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	engine := automation.NewEngine(coord, mgr, newTestLogger(), automation.SystemConfig{})
	engine.Start()
	t.Cleanup(engine.Stop)

	srv := NewServer(coord, newTestLogger(), WithAutomation(engine, mgr))
	t.Cleanup(srv.Stop)
	return &testServer{Server: srv, st: st, stub: stub}, engine
}

func TestScriptsCRUD(t *testing.T) {
	ts, engine := setupAutomationServer(t)

	w := ts.do(t, "POST", "/api/scripts", `{"name": "Log joins", "enabled": true, "code": "znp.on('ZDO', 'tcDeviceInd', function(p) znp.log(p.nwkaddr) end)"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body)
	}
	created := decodeJSON[map[string]any](t, w)
	if created["error"] != nil {
		t.Fatalf("start error: %v", created["error"])
	}
	id := created["script"].(map[string]any)["id"].(string)
	if id != "log_joins" {
		t.Errorf("id = %q", id)
	}
	if engine.Running() != 1 {
		t.Errorf("running = %d, want 1", engine.Running())
	}

	if list := decodeJSON[[]map[string]any](t, ts.do(t, "GET", "/api/scripts", "")); len(list) != 1 {
		t.Errorf("list = %v", list)
	}

	w = ts.do(t, "PUT", "/api/scripts/"+id, `{"name": "Log joins", "enabled": false, "code": "znp.log('off')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body)
	}
	if engine.Running() != 0 {
		t.Errorf("disabled script still running")
	}
	got := decodeJSON[map[string]any](t, ts.do(t, "GET", "/api/scripts/"+id, ""))
	if got["code"] != "znp.log('off')" {
		t.Errorf("code = %v", got["code"])
	}

	run := decodeJSON[automation.RunResult](t, ts.do(t, "POST", "/api/scripts/"+id+"/run", ""))
	if !run.OK || len(run.Logs) != 1 || run.Logs[0] != "off" {
		t.Errorf("run = %+v", run)
	}

	if w := ts.do(t, "DELETE", "/api/scripts/"+id, ""); w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
	for _, req := range []struct{ method, path string }{
		{"GET", "/api/scripts/" + id},
		{"DELETE", "/api/scripts/" + id},
		{"POST", "/api/scripts/" + id + "/run"},
	} {
		if w := ts.do(t, req.method, req.path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", req.method, req.path, w.Code)
		}
	}
}

func TestScriptsCreateValidation(t *testing.T) {
	ts, engine := setupAutomationServer(t)

	if w := ts.do(t, "POST", "/api/scripts", `{"code": "x = 1"}`); w.Code != http.StatusBadRequest {
		t.Errorf("nameless = %d", w.Code)
	}

	w := ts.do(t, "POST", "/api/scripts", `{"name": "broken", "enabled": true, "code": "znp.on("}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	if got := decodeJSON[map[string]any](t, w); got["error"] == nil {
		t.Error("syntax error not reported")
	}
	if engine.Running() != 0 {
		t.Errorf("running = %d", engine.Running())
	}
	if w := ts.do(t, "GET", "/api/scripts/..%2Fetc", ""); w.Code == http.StatusOK {
		t.Error("path traversal id accepted")
	}
}

func TestScriptsRunCode(t *testing.T) {
	ts, _ := setupAutomationServer(t)

	tests := []struct {
		code string
		ok   bool
		logs int
	}{
		{`znp.log("hi") znp.log(tostring(1 + 1))`, true, 2},
		{`error("boom")`, false, 0},
		{`local _, err = znp.request("SYS", "ping") znp.log(err)`, true, 1},
	}
	for _, tt := range tests {
		w := ts.do(t, "POST", "/api/scripts/run", `{"code": `+jsonString(tt.code)+`}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		res := decodeJSON[automation.RunResult](t, w)
		if res.OK != tt.ok || len(res.Logs) != tt.logs {
			t.Errorf("%q = %+v", tt.code, res)
		}
	}
}
