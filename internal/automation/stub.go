//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"znp-host/internal/coordinator"
)

// ErrDisabled is returned by every operation of a build without automation.
var ErrDisabled = errors.New("automation disabled")

// ErrScriptNotFound is returned for an unknown script ID.
var ErrScriptNotFound = errors.New("script not found")

type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	Code     string     `json:"code"`
	FilePath string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

type SystemConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
}

// Manager is a no-op when automation is disabled.
type Manager struct{}

func NewManager(string, *slog.Logger) (*Manager, error) { return nil, ErrDisabled }

func (m *Manager) Dir() string                     { return "" }
func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(string) (*Script, error)     { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return nil, ErrDisabled }
func (m *Manager) Delete(string) error             { return ErrDisabled }

// Engine is a no-op when automation is disabled.
type Engine struct{}

func NewEngine(*coordinator.Coordinator, *Manager, *slog.Logger, SystemConfig) *Engine {
	return &Engine{}
}

func (e *Engine) Start()                    {}
func (e *Engine) Stop()                     {}
func (e *Engine) Running() int              { return 0 }
func (e *Engine) ReloadScript(string) error { return ErrDisabled }
func (e *Engine) StopScript(string)         {}

func (e *Engine) RunScript(string) *RunResult {
	return &RunResult{Error: ErrDisabled.Error(), Logs: []string{}}
}

func (e *Engine) RunLuaCode(string) *RunResult {
	return &RunResult{Error: ErrDisabled.Error(), Logs: []string{}}
}
