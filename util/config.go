package util

import (
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config holds the shim settings. Values come from an optional yaml file
// named by JETIFY_CONFIG_FILE; the JETIFY_LOG_* variables override it.
type Config struct {
	LogLevel      string   `yaml:"log_level"`
	LogFilePath   string   `yaml:"log_file_path"`
	DisabledHooks []string `yaml:"disabled_hooks"`

	// levelSet records whether a log level was configured at all, even an
	// empty one. Logging is off unless it is.
	levelSet bool
}

func ReadConfig(config string) (conf Config, err error) {
	var buf []byte
	if buf, err = ioutil.ReadFile(config); err == nil {
		err = yaml.UnmarshalStrict(buf, &conf)
	}
	if err == nil && conf.LogLevel != "" {
		conf.levelSet = true
	}
	return
}

// LoadConfig builds the effective configuration from env. A config file
// that cannot be read is reported, and the environment overrides are
// still applied to the returned value.
func LoadConfig(env Env) (Config, error) {
	var conf Config
	var err error
	if path, ok := env.LookupEnv(EnvConfigFile); ok && path != "" {
		var fileConf Config
		if fileConf, err = ReadConfig(path); err != nil {
			err = errors.Wrapf(err, "config file '%s'", path)
		} else {
			conf = fileConf
		}
	}
	if v, ok := env.LookupEnv(EnvLogLevel); ok {
		conf.LogLevel = v
		conf.levelSet = true
	}
	if v, ok := env.LookupEnv(EnvLogFilePath); ok && v != "" {
		conf.LogFilePath = v
	}
	return conf, err
}

// LogLevelSet reports whether a log level was given by the file or the
// environment.
func (c Config) LogLevelSet() bool {
	return c.levelSet
}

// HookDisabled reports whether the named function is listed in
// disabled_hooks.
func (c Config) HookDisabled(name string) bool {
	for _, n := range c.DisabledHooks {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}
