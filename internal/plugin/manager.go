package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"rtclient/internal/protocol"
)

// DefaultExecutionTimeout is the default timeout for hook execution
const DefaultExecutionTimeout = 100 * time.Millisecond

// hookDirectiveRegex matches @hook directive in comments
var hookDirectiveRegex = regexp.MustCompile(`(?m)^//\s*@hook\s+(\S+)`)

// Manager manages JavaScript hooks
type Manager struct {
	plugins map[Hook]*Plugin
	logger  zerolog.Logger
	timeout time.Duration
	mu      sync.RWMutex
}

// NewManager creates a new Manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		plugins: make(map[Hook]*Plugin),
		logger:  logger.With().Str("component", "plugin-manager").Logger(),
		timeout: DefaultExecutionTimeout,
	}
}

// SetTimeout sets the execution timeout for hooks
func (m *Manager) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.timeout = timeout
	}
}

// LoadFromDirectory loads all .js hooks from a directory
func (m *Manager) LoadFromDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		m.logger.Warn().Str("directory", dir).Msg("plugins directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat plugins directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugins path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugins directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			m.logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to read plugin file")
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".js")
		if err := m.Load(name, string(content)); err != nil {
			m.logger.Error().
				Err(err).
				Str("file", entry.Name()).
				Msg("failed to load plugin")
			continue
		}
		loadedCount++
	}

	m.logger.Info().
		Int("loaded", loadedCount).
		Str("directory", dir).
		Msg("plugins loaded")

	return nil
}

// Load registers a hook script. The script must compile and name a known
// hook point.
func (m *Manager) Load(name, script string) error {
	hook := extractHookDirective(script)
	if hook == "" {
		return fmt.Errorf("plugin missing @hook directive")
	}
	if !hook.Valid() {
		return fmt.Errorf("unknown hook: %s", hook)
	}
	if _, err := goja.Compile(name, script, false); err != nil {
		return fmt.Errorf("script error: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[hook]; exists {
		return fmt.Errorf("duplicate hook: %s", hook)
	}
	m.plugins[hook] = &Plugin{Name: name, Hook: hook, Script: script}

	m.logger.Info().
		Str("name", name).
		Str("hook", string(hook)).
		Msg("plugin loaded")
	return nil
}

// extractHookDirective extracts the hook name from @hook directive
func extractHookDirective(script string) Hook {
	matches := hookDirectiveRegex.FindStringSubmatch(script)
	if len(matches) >= 2 {
		return Hook(matches[1])
	}
	return ""
}

// Has checks if a plugin serves the given hook
func (m *Manager) Has(hook Hook) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.plugins[hook]
	return exists
}

// Hooks returns the hook points with a loaded plugin
func (m *Manager) Hooks() []Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hooks := make([]Hook, 0, len(m.plugins))
	for hook := range m.plugins {
		hooks = append(hooks, hook)
	}
	return hooks
}

// Execute runs the plugin for hook with value, which is handed to the
// script as its JSON form. Every call gets a fresh VM.
func (m *Manager) Execute(ctx context.Context, hook Hook, value interface{}) (interface{}, error) {
	m.mu.RLock()
	plugin, exists := m.plugins[hook]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}

	arg, err := toJSValue(value)
	if err != nil {
		return nil, fmt.Errorf("invalid hook argument: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	runtime := NewRuntime(m.logger)
	type outcome struct {
		result interface{}
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		result, err := m.executePlugin(runtime, plugin, arg)
		resultCh <- outcome{result, err}
	}()

	select {
	case <-execCtx.Done():
		runtime.Interrupt("timeout")
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			m.logger.Warn().
				Str("hook", string(hook)).
				Dur("timeout", m.timeout).
				Msg("plugin execution timed out")
			return nil, ErrTimeout
		}
		return nil, execCtx.Err()
	case out := <-resultCh:
		return out.result, out.err
	}
}

func (m *Manager) executePlugin(runtime *Runtime, plugin *Plugin, arg interface{}) (interface{}, error) {
	if _, err := runtime.RunScript(plugin.Script); err != nil {
		m.logger.Error().
			Err(err).
			Str("plugin", plugin.Name).
			Msg("failed to load plugin script")
		return nil, fmt.Errorf("script error: %w", err)
	}

	result, err := runtime.CallFunction("execute", arg)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("plugin", plugin.Name).
			Msg("plugin execution failed")
		return nil, err
	}
	return result.Export(), nil
}

// toJSValue converts v to plain maps and slices so scripts see the JSON
// field names
func toJSValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// allow runs a predicate hook. A missing plugin allows; a failing one
// allows too and logs the fault.
func (m *Manager) allow(hook Hook, value interface{}) bool {
	if !m.Has(hook) {
		return true
	}
	result, err := m.Execute(context.Background(), hook, value)
	if err != nil {
		m.logger.Warn().Err(err).Str("hook", string(hook)).Msg("hook failed, allowing")
		return true
	}
	return truthy(result)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

// QueueFilter returns a predicate suitable for the session queue filter,
// or nil when no queueFilter hook is loaded
func (m *Manager) QueueFilter() func(*protocol.Request) bool {
	if !m.Has(HookQueueFilter) {
		return nil
	}
	return func(req *protocol.Request) bool {
		return m.allow(HookQueueFilter, req)
	}
}

// Notification reports whether n passes the notification hook
func (m *Manager) Notification(n *protocol.Notification) bool {
	return m.allow(HookNotification, n)
}

// Close releases all resources
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = make(map[Hook]*Plugin)
	m.logger.Info().Msg("plugin manager closed")
}
