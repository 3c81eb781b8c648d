//go:build !windows

package winapi

import (
	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/util"
)

// NewHooks registers the intercepted functions without callbacks. Nothing
// can be patched outside Windows, so the table only serves to describe the
// targets.
func NewHooks(t *hooks.Table, env util.Env, log *core.Logger) *Interceptor {
	for _, target := range Targets {
		t.AddHook(target, 0)
	}
	return NewInterceptor(&Originals{}, env, log)
}
