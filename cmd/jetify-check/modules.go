package main

import (
	"strings"

	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/pefile"
	"github.com/devolutions/jetify/util"
	"github.com/pkg/errors"
)

// maxForwards bounds how many forwarded exports are followed.
const maxForwards = 4

// moduleSet loads DLLs from a list of directories, each at most once.
type moduleSet struct {
	dirs   []string
	loaded map[string]*pefile.PeFile
	failed map[string]error
}

func newModuleSet(dirs []string) *moduleSet {
	return &moduleSet{
		dirs:   dirs,
		loaded: make(map[string]*pefile.PeFile),
		failed: make(map[string]error),
	}
}

func (m *moduleSet) load(module string) (*pefile.PeFile, error) {
	key := strings.ToLower(module)
	if f, ok := m.loaded[key]; ok {
		return f, nil
	}
	if err, ok := m.failed[key]; ok {
		return nil, err
	}
	path, err := util.SearchFile(m.dirs, module)
	if err == nil {
		var f *pefile.PeFile
		if f, err = pefile.LoadPeFile(path); err == nil {
			m.loaded[key] = f
			return f, nil
		}
	}
	m.failed[key] = err
	return nil, err
}

// location is where an exported function's code lives. forwarded lists the
// forwarders that were followed to get there.
type location struct {
	module    string
	file      *pefile.PeFile
	export    pefile.Export
	forwarded []string
}

// locate finds the first module of target that exports it and follows
// forwarders to the module holding the code.
func (m *moduleSet) locate(target hooks.Target) (*location, error) {
	var lastErr error
	for _, module := range target.Modules {
		f, err := m.load(module)
		if err != nil {
			lastErr = err
			continue
		}
		export, ok := f.ExportNameMap[target.Name]
		if !ok {
			lastErr = errors.Errorf("%s does not export %s", module, target.Name)
			continue
		}
		return m.follow(&location{module: module, file: f, export: export})
	}
	if lastErr == nil {
		lastErr = errors.Errorf("%s: no module to search", target.Name)
	}
	return nil, lastErr
}

func (m *moduleSet) follow(loc *location) (*location, error) {
	for i := 0; loc.export.Forwarded(); i++ {
		if i == maxForwards {
			return loc, errors.Errorf("too many forwarders after %s", loc.export.Forward)
		}
		module, name, err := splitForward(loc.export.Forward)
		if err != nil {
			return loc, err
		}
		f, err := m.load(module)
		if err != nil {
			return loc, errors.Wrapf(err, "forwarder %s", loc.export.Forward)
		}
		export, ok := f.ExportNameMap[name]
		if !ok {
			return loc, errors.Errorf("forwarder %s: %s does not export %s", loc.export.Forward, module, name)
		}
		loc = &location{
			module:    module,
			file:      f,
			export:    export,
			forwarded: append(loc.forwarded, loc.export.Forward),
		}
	}
	return loc, nil
}

// splitForward turns "api-ms-win-core-registry-l1-1-0.RegOpenKeyExW" into
// a module file name and a function name. Ordinal forwarders are rejected.
func splitForward(forward string) (string, string, error) {
	i := strings.LastIndexByte(forward, '.')
	if i <= 0 || i == len(forward)-1 {
		return "", "", errors.Errorf("malformed forwarder %q", forward)
	}
	module, name := forward[:i], forward[i+1:]
	if strings.HasPrefix(name, "#") {
		return "", "", errors.Errorf("forwarder %q is by ordinal", forward)
	}
	if !util.IStringEndsWith(module, ".dll") {
		module += ".dll"
	}
	return module, name, nil
}
