// Package shim ties the pieces of the interception library together for
// the lifetime of the host process.
package shim

import (
	"sync"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/util"
	"github.com/devolutions/jetify/winapi"
	"github.com/devolutions/jetify/wsman"
)

// Platform supplies everything that touches the operating system.
type Platform struct {
	Resolver   hooks.Resolver
	NewPatcher func(log *core.Logger) hooks.Patcher
	Loader     wsman.Loader
	ModulePath func() string
	SystemRoot func(env util.Env) string
	Register   func(t *hooks.Table, env util.Env, log *core.Logger) *winapi.Interceptor
}

// DefaultSystemRoot is used when SystemRoot is not set.
const DefaultSystemRoot = `C:\Windows`

func systemRoot(env util.Env) string {
	if v := util.GetEnv(env, "SystemRoot", ""); v != "" {
		return v
	}
	return DefaultSystemRoot
}

type Shim struct {
	mu       sync.Mutex
	env      util.Env
	platform Platform

	conf        util.Config
	log         *core.Logger
	wsman       *wsman.Library
	table       *hooks.Table
	manager     *hooks.Manager
	interceptor *winapi.Interceptor

	ready       bool
	initialized bool
}

func New(env util.Env, p Platform) *Shim {
	if p.SystemRoot == nil {
		p.SystemRoot = systemRoot
	}
	if p.ModulePath == nil {
		p.ModulePath = func() string { return "" }
	}
	return &Shim{env: env, platform: p}
}

// Initialize opens the log, loads the WSMan library when needed and
// attaches every hook. Once it has succeeded further calls do nothing; after
// a failed attach the next call tries again.
func (s *Shim) Initialize() hooks.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return hooks.StatusSuccess
	}
	if !s.ready {
		s.setup()
	}
	if err := s.wsman.Init(s.platform.ModulePath(), s.platform.SystemRoot(s.env)); err != nil {
		s.log.Errorf("Jetify_Init: %v", err)
	}

	status := s.manager.AttachAll()
	if status != hooks.StatusSuccess {
		s.log.Errorf("Jetify_Init: attach failed: %v", status.Err())
		return status
	}
	s.initialized = true
	s.log.Infof("Jetify_Init: %d hooks attached", len(s.manager.Attached()))
	return status
}

func (s *Shim) setup() {
	conf, confErr := util.LoadConfig(s.env)
	s.conf = conf
	s.log = core.NewLogger(conf.LogLevel, conf.LogLevelSet(), conf.LogFilePath)
	// nowhere to report a log that cannot be opened
	_ = s.log.Open()
	if confErr != nil {
		s.log.Warnf("Jetify_Init: %v", confErr)
	}

	s.wsman = wsman.New(s.platform.Loader, s.log)

	s.table = hooks.NewTable()
	s.interceptor = s.platform.Register(s.table, s.env, s.log)
	for _, h := range s.table.Hooks() {
		if conf.HookDisabled(h.Name) {
			h.Disabled = true
		}
	}
	s.manager = hooks.NewManager(s.table, s.platform.Resolver, s.platform.NewPatcher(s.log), s.log)
	s.ready = true
}

// Uninitialize frees the WSMan library, detaches the hooks and closes the
// log. A failed detach leaves the hooks in place with the log still open;
// the next Initialize reloads WSMan and the next Uninitialize tries again.
func (s *Shim) Uninitialize() hooks.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return hooks.StatusSuccess
	}

	if err := s.wsman.Uninit(); err != nil {
		s.log.Errorf("Jetify_Uninit: %v", err)
	}
	s.initialized = false
	status := s.manager.DetachAll()
	if status != hooks.StatusSuccess {
		s.log.Errorf("Jetify_Uninit: detach failed: %v", status.Err())
		return status
	}
	s.log.Infof("Jetify_Uninit")
	s.log.Close()
	s.ready = false
	return status
}

func (s *Shim) Config() util.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf
}

func (s *Shim) Logger() *core.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Table returns the hook table, nil before the first Initialize.
func (s *Shim) Table() *hooks.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

func (s *Shim) Interceptor() *winapi.Interceptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interceptor
}

func (s *Shim) WSMan() *wsman.Library {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsman
}
