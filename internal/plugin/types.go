package plugin

import "errors"

// Hook names a point where a script may intervene
type Hook string

const (
	HookQueueFilter  Hook = "queueFilter"
	HookNotification Hook = "notification"
)

// Valid reports whether h is a known hook point
func (h Hook) Valid() bool {
	return h == HookQueueFilter || h == HookNotification
}

// Plugin represents a loaded JavaScript hook
type Plugin struct {
	Name   string // plugin name (filename without extension)
	Hook   Hook   // hook point this plugin serves
	Script string // JavaScript source code
}

var (
	ErrNotFound = errors.New("plugin not found")
	ErrTimeout  = errors.New("plugin execution timed out")
)
