//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
)

var (
	errDisabled       = errors.New("automation disabled")
	ErrScriptNotFound = errors.New("script not found")
)

func CheckSyntax(_ string) error { return errDisabled }

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script represents a single automation script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Converter is unused when automation is disabled.
type Converter interface{}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a no-op manager.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return &Manager{}, nil }

func (m *Manager) List() ([]*Script, error) { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error) { return nil, errDisabled }
func (m *Manager) Save(_ *Script) (*Script, error) { return nil, errDisabled }
func (m *Manager) Delete(_ string) error { return errDisabled }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine.
func NewEngine(_ Converter, _ *Manager, _ *slog.Logger) *Engine { return &Engine{} }

func (e *Engine) Start() {}
func (e *Engine) Stop() {}
func (e *Engine) Running(_ string) bool { return false }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string) {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: errDisabled.Error()}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: errDisabled.Error()}
}
