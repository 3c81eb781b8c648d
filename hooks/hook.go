package hooks

import (
	"strings"
	"sync/atomic"
)

// Target names an exported function. Modules are tried in order and the
// first one that exports Name wins.
type Target struct {
	Modules []string
	Name    string
	// Load allows loading the module when it is not mapped yet. Functions
	// that the host links against statically use it; the others are only
	// looked up among modules already in the process.
	Load bool
}

func (t Target) String() string {
	return strings.Join(t.Modules, "|") + "!" + t.Name
}

// Hook is one intercepted function: where it lives, the callback that
// replaces it, and the address that reaches the original behavior.
type Hook struct {
	Target
	Callback uintptr
	Disabled bool

	module   string
	original uintptr
	attached bool
	real     atomic.Uintptr
}

// Real returns the address to call for the original behavior: the
// trampoline while attached, the function itself otherwise, zero when the
// function was never resolved.
func (h *Hook) Real() uintptr {
	return h.real.Load()
}

func (h *Hook) Attached() bool {
	return h.attached
}

// Module returns the module that resolved the function.
func (h *Hook) Module() string {
	return h.module
}

// Original returns the resolved address of the function.
func (h *Hook) Original() uintptr {
	return h.original
}

// Table is the fixed set of hooks installed by a Manager.
type Table struct {
	hooks  []*Hook
	byName map[string]*Hook
}

func NewTable() *Table {
	return &Table{byName: make(map[string]*Hook)}
}

// AddHook registers callback as the replacement for target and returns the
// hook so the caller can reach the original through Real.
func (t *Table) AddHook(target Target, callback uintptr) *Hook {
	h := &Hook{Target: target, Callback: callback}
	t.hooks = append(t.hooks, h)
	t.byName[target.Name] = h
	return h
}

func (t *Table) Get(name string) (*Hook, bool) {
	h, ok := t.byName[name]
	return h, ok
}

// Hooks returns the hooks in registration order.
func (t *Table) Hooks() []*Hook {
	return t.hooks
}
