package util

import "os"

// Environment variables read by the shim.
const (
	EnvProxy       = "WINRM_PROXY"
	EnvProxyBypass = "WINRM_PROXY_BYPASS"
	EnvLogLevel    = "JETIFY_LOG_LEVEL"
	EnvLogFilePath = "JETIFY_LOG_FILE_PATH"
	EnvConfigFile  = "JETIFY_CONFIG_FILE"
)

// Env looks up environment variables. Hooks read it on every call, so an
// implementation must be safe for concurrent use.
type Env interface {
	LookupEnv(name string) (string, bool)
}

// OSEnv reads the process environment.
type OSEnv struct{}

func (OSEnv) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// MapEnv is a fixed environment.
type MapEnv map[string]string

func (m MapEnv) LookupEnv(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// GetEnv returns the value of name, or def when it is not set.
func GetEnv(env Env, name, def string) string {
	if v, ok := env.LookupEnv(name); ok {
		return v
	}
	return def
}
