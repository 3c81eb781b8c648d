package hooks

import (
	"sync"

	"github.com/devolutions/jetify/core"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Resolver finds the address of an exported function.
type Resolver interface {
	Resolve(module, name string, load bool) (uintptr, error)
}

// Patcher redirects functions to callbacks in transactions. Attach and
// Detach only queue work; nothing changes in memory until Commit, which
// applies all of it or none of it. An Attach error is kept and makes the
// following Commit fail.
type Patcher interface {
	Begin() error
	// Attach queues a redirect from target to detour and returns the address
	// that will run the original code once the transaction commits.
	Attach(target, detour uintptr) (uintptr, error)
	Detach(target uintptr) error
	Commit() error
	Abort() error
}

// Manager installs and removes every hook of a Table as a single unit.
type Manager struct {
	mu       sync.Mutex
	table    *Table
	resolver Resolver
	patcher  Patcher
	log      *core.Logger
	attached []*Hook
}

func NewManager(table *Table, resolver Resolver, patcher Patcher, log *core.Logger) *Manager {
	return &Manager{
		table:    table,
		resolver: resolver,
		patcher:  patcher,
		log:      log,
	}
}

// AttachAll resolves every enabled hook and installs the ones it found in
// one transaction. Functions that cannot be resolved are skipped. Calling it
// again while attached does nothing.
func (m *Manager) AttachAll() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.attached) > 0 {
		return StatusSuccess
	}

	var unresolved error
	var pending []*Hook
	for _, h := range m.table.hooks {
		if h.Disabled {
			m.log.Infof("hooks: %s disabled by configuration", h.Name)
			continue
		}
		if err := m.resolve(h); err != nil {
			unresolved = multierr.Append(unresolved, err)
			continue
		}
		pending = append(pending, h)
	}
	for _, err := range multierr.Errors(unresolved) {
		m.log.Warnf("hooks: skipping %v", err)
	}

	if err := m.patcher.Begin(); err != nil {
		m.log.Errorf("hooks: begin transaction: %v", err)
		return StatusOf(err)
	}

	trampolines := make([]uintptr, len(pending))
	for i, h := range pending {
		tramp, err := m.patcher.Attach(h.original, h.Callback)
		if err != nil {
			err = errors.Wrapf(err, "attach %s at 0x%x", h.Name, h.original)
			m.log.Errorf("hooks: %v", err)
			m.patcher.Abort()
			return StatusOf(err)
		}
		trampolines[i] = tramp
	}

	// The callbacks go live inside Commit, so they must already see their
	// trampolines.
	for i, h := range pending {
		h.real.Store(trampolines[i])
	}
	if err := m.patcher.Commit(); err != nil {
		for _, h := range pending {
			h.real.Store(h.original)
		}
		m.log.Errorf("hooks: commit attach: %v", err)
		return StatusOf(err)
	}

	for _, h := range pending {
		h.attached = true
		m.log.Debugf("hooks: attached %s!%s at 0x%x", h.module, h.Name, h.original)
	}
	m.attached = pending
	return StatusSuccess
}

// DetachAll removes every installed hook in one transaction. With nothing
// attached it commits an empty transaction.
func (m *Manager) DetachAll() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.patcher.Begin(); err != nil {
		m.log.Errorf("hooks: begin transaction: %v", err)
		return StatusOf(err)
	}
	for _, h := range m.attached {
		if err := m.patcher.Detach(h.original); err != nil {
			err = errors.Wrapf(err, "detach %s at 0x%x", h.Name, h.original)
			m.log.Errorf("hooks: %v", err)
			m.patcher.Abort()
			return StatusOf(err)
		}
	}
	if err := m.patcher.Commit(); err != nil {
		m.log.Errorf("hooks: commit detach: %v", err)
		return StatusOf(err)
	}

	for _, h := range m.attached {
		h.real.Store(h.original)
		h.attached = false
		m.log.Debugf("hooks: detached %s", h.Name)
	}
	m.attached = nil
	return StatusSuccess
}

// Attached returns the hooks currently installed.
func (m *Manager) Attached() []*Hook {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Hook(nil), m.attached...)
}

func (m *Manager) resolve(h *Hook) error {
	var errs error
	for _, module := range h.Modules {
		addr, err := m.resolver.Resolve(module, h.Name, h.Load)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s!%s", module, h.Name))
			continue
		}
		h.module = module
		h.original = addr
		h.real.Store(addr)
		return nil
	}
	if errs == nil {
		errs = errors.Errorf("%s: no module to search", h.Name)
	}
	return errs
}
