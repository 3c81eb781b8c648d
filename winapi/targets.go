package winapi

import "github.com/devolutions/jetify/hooks"

var (
	// WinHTTP is linked statically by the WinRM client, so it may be loaded.
	winhttpModules = []string{"winhttp.dll"}
	// The registry functions are only looked up in modules already mapped,
	// KernelBase first.
	registryModules = []string{"KernelBase.dll", "advapi32.dll"}
)

func winhttpTarget(name string) hooks.Target {
	return hooks.Target{Modules: winhttpModules, Name: name, Load: true}
}

func registryTarget(name string) hooks.Target {
	return hooks.Target{Modules: registryModules, Name: name}
}

// Targets lists every intercepted function in attach order.
var Targets = []hooks.Target{
	winhttpTarget("WinHttpOpen"),
	winhttpTarget("WinHttpConnect"),
	winhttpTarget("WinHttpSetOption"),
	winhttpTarget("WinHttpOpenRequest"),
	winhttpTarget("WinHttpSendRequest"),
	winhttpTarget("WinHttpCloseHandle"),
	registryTarget("RegOpenKeyExW"),
	registryTarget("RegQueryValueExW"),
}
