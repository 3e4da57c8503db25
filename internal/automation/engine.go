//go:build !no_automation

// Package automation runs Lua scripts that react to co-processor
// indications and coordinator events and issue MT requests.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"znp-host/internal/coordinator"
	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

const (
	runTimeout     = 5 * time.Second
	queueSize      = 64
	maxHandlers    = 100
	requestTimeout = 10 * time.Second
)

// Requester sends MT commands. *znp.Driver implements it.
type Requester interface {
	Request(ctx context.Context, sub unpi.Subsystem, name string, params znp.Params, opts ...znp.RequestOption) (*znp.Message, error)
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// handler is a Lua callback registered with znp.on or znp.on_event.
type handler struct {
	event   string // coordinator event type; empty for indication handlers
	subsys  unpi.Subsystem
	anySub  bool
	command string // "*" matches any command
	fn      *lua.LFunction
}

func (h handler) matches(ev coordinator.Event) bool {
	if h.event != "" {
		return h.event == "*" || h.event == ev.Type
	}
	if ev.Type != coordinator.EventIndication {
		return false
	}
	m, ok := ev.Data.(*znp.Message)
	if !ok {
		return false
	}
	if !h.anySub && h.subsys != m.Subsystem {
		return false
	}
	return h.command == "*" || h.command == m.Name
}

// scriptVM is the Lua state of one script. mu serializes every use of the
// state; hmu guards the handler list, which dispatch reads from the
// driver's reader goroutine.
type scriptVM struct {
	id     string
	mu     sync.Mutex
	state  *lua.LState
	queue  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	hmu      sync.Mutex
	handlers []handler

	// One-shot runs collect znp.log output here.
	logs    []string
	capture bool
}

func (vm *scriptVM) addHandler(h handler) error {
	vm.hmu.Lock()
	defer vm.hmu.Unlock()
	if len(vm.handlers) >= maxHandlers {
		return fmt.Errorf("too many handlers (max %d)", maxHandlers)
	}
	vm.handlers = append(vm.handlers, h)
	return nil
}

func (vm *scriptVM) matching(ev coordinator.Event) []*lua.LFunction {
	vm.hmu.Lock()
	defer vm.hmu.Unlock()
	var out []*lua.LFunction
	for _, h := range vm.handlers {
		if h.matches(ev) {
			out = append(out, h.fn)
		}
	}
	return out
}

// run executes queued callbacks until the VM is stopped, then closes the
// state.
func (vm *scriptVM) run() {
	defer close(vm.done)
	for {
		select {
		case <-vm.ctx.Done():
			vm.mu.Lock()
			vm.state.Close()
			vm.mu.Unlock()
			return
		case fn := <-vm.queue:
			vm.mu.Lock()
			fn()
			vm.mu.Unlock()
		}
	}
}

// Engine runs enabled scripts and feeds them coordinator events.
type Engine struct {
	events  *coordinator.EventBus
	req     Requester
	manager *Manager
	logger  *slog.Logger

	systemCfg SystemConfig
	now       func() time.Time

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine for the coordinator.
func NewEngine(coord *coordinator.Coordinator, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig) *Engine {
	var req Requester
	if drv := coord.Driver(); drv != nil {
		req = drv
	}
	return newEngine(coord.Events(), req, mgr, logger, sysCfg)
}

func newEngine(events *coordinator.EventBus, req Requester, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		events:    events,
		req:       req,
		manager:   mgr,
		logger:    logger.With("component", "automation"),
		systemCfg: sysCfg,
		now:       time.Now,
		vms:       make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and starts every enabled script.
func (e *Engine) Start() {
	if e.events != nil {
		e.unsub = e.events.OnAll(e.dispatch)
	}

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
	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop unsubscribes from the bus and stops every script.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	vms := e.vms
	e.vms = make(map[string]*scriptVM)
	e.mu.Unlock()

	for _, vm := range vms {
		vm.cancel()
		<-vm.done
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the number of running scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ReloadScript restarts a script from disk. A disabled script is only
// stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return err
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	vm, ok := e.vms[id]
	delete(e.vms, id)
	e.mu.Unlock()

	if ok {
		vm.cancel()
		<-vm.done
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript runs a stored script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.Code)
}

// RunLuaCode runs code once in a throwaway VM and returns its znp.log
// output. Handlers the code registers are never called.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := e.now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := e.newVM(ctx, cancel, "_run")
	vm.capture = true
	defer vm.state.Close()

	err := vm.state.DoString(code)
	res := &RunResult{OK: err == nil, Logs: vm.logs, Duration: e.now().Sub(start).String()}
	if err != nil {
		res.Error = err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Error = "timeout (" + runTimeout.String() + ")"
		}
	}
	if res.Logs == nil {
		res.Logs = []string{}
	}
	return res
}

func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string) *scriptVM {
	L := newState()
	L.SetContext(ctx)
	vm := &scriptVM{
		id:     id,
		state:  L,
		queue:  make(chan func(), queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	registerZNPModule(L, vm, e)
	registerSystemModule(L, e)
	return vm
}

// newState opens a Lua state with the base, table, string and math
// libraries and without file loading.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel, s.ID)

	if err := vm.state.DoString(s.Code); err != nil {
		cancel()
		vm.state.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go vm.run()
	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatch queues matching callbacks on each script's VM. It runs on the
// publisher's goroutine and never blocks on Lua.
func (e *Engine) dispatch(ev coordinator.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		for _, fn := range vm.matching(ev) {
			fn := fn
			select {
			case <-vm.ctx.Done():
			case vm.queue <- func() { e.call(vm, fn, ev) }:
			default:
				e.logger.Warn("script queue full, dropping event", "id", vm.id, "event", ev.Type)
			}
		}
	}
}

// call invokes a handler. Indication handlers get (payload, message);
// event handlers get (data, type).
func (e *Engine) call(vm *scriptVM, fn *lua.LFunction, ev coordinator.Event) {
	L := vm.state
	var args []lua.LValue
	if m, ok := ev.Data.(*znp.Message); ok {
		meta := L.NewTable()
		meta.RawSetString("type", lua.LString(m.Type.String()))
		meta.RawSetString("subsystem", lua.LString(m.Subsystem.String()))
		meta.RawSetString("command", lua.LString(m.Name))
		args = []lua.LValue{goToLua(L, map[string]any(m.Params)), meta}
	} else {
		args = []lua.LValue{goToLua(L, ev.Data), lua.LString(ev.Type)}
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		e.logger.Error("script handler error", "id", vm.id, "event", ev.Type, "err", err)
	}
}

// parseFilter reads the subsystem of znp.on. "*" matches every subsystem.
func parseFilter(subsys string) (unpi.Subsystem, bool, error) {
	if subsys == "*" {
		return 0, true, nil
	}
	sub, ok := unpi.ParseSubsystem(strings.TrimSpace(subsys))
	if !ok {
		return 0, false, fmt.Errorf("unknown subsystem %q", subsys)
	}
	return sub, false, nil
}
