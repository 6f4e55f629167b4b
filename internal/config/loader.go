package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// ConfigEnvVar names a config file when no --config flag is given.
const ConfigEnvVar = "DIAGSCOPE_CONFIG"

// InitViper initializes Viper with the configuration file and environment variables.
// The file is configFile, else $DIAGSCOPE_CONFIG, else diagscope.yaml/.yml
// from the standard locations. The search requires an explicit YAML
// extension so the binary itself, which shares the base name, is never
// picked up.
func InitViper(configFile string) {
	if configFile == "" {
		configFile = os.Getenv(ConfigEnvVar)
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, which callers ignore.
		viper.SetConfigName("diagscope")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: DIAGSCOPE_SERVER_ADDR
	viper.SetEnvPrefix("DIAGSCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a diagscope config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".diagscope"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "diagscope"))
		}
	} else {
		paths = append(paths, "/etc/diagscope")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for diagscope.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "diagscope"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every scalar key of Config so Unmarshal sees env
// overrides, e.g. DIAGSCOPE_SERVER_ADDR for server.addr. Lists such as
// routes can only be set from the file.
func bindNestedEnvKeys() {
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		_ = viper.BindEnv(key)
	}
}

// envKeys walks t's mapstructure tags and returns the dotted keys of all
// scalar fields.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(f.Type, prefix+name+".")...)
		case reflect.Slice, reflect.Map:
		default:
			keys = append(keys, prefix+name)
		}
	}
	return keys
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, applies dev defaults and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override fields before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// No file: environment variables and defaults only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
