package config

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var DefaultConfigFileName = "localfaas-conf"

// Get returns the configured value for a given key or the specified default.
func Get(key string, defaultValue interface{}) interface{} {
	if viper.IsSet(key) {
		return viper.Get(key)
	} else {
		return defaultValue
	}
}

func GetInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return cast.ToInt(viper.Get(key))
	} else {
		return defaultValue
	}
}

func GetFloat(key string, defaultValue float64) float64 {
	if viper.IsSet(key) {
		return cast.ToFloat64(viper.Get(key))
	} else {
		return defaultValue
	}
}

func GetString(key string, defaultValue string) string {
	if viper.IsSet(key) {
		return cast.ToString(viper.Get(key))
	} else {
		return defaultValue
	}
}

func GetBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return cast.ToBool(viper.Get(key))
	} else {
		return defaultValue
	}
}

// GetStringSlice accepts either a list or a whitespace separated string.
func GetStringSlice(key string, defaultValue []string) []string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	v := viper.Get(key)
	if s, ok := v.(string); ok {
		return strings.Fields(s)
	}
	return cast.ToStringSlice(v)
}

// Set overrides a configuration value (e.g., from a command line flag).
func Set(key string, value interface{}) {
	viper.Set(key, value)
}

// ReadConfiguration loads the configuration file (if any) and enables
// LOCALFAAS_* environment overrides.
func ReadConfiguration(fileName string) {
	if fileName != "" {
		viper.SetConfigFile(fileName)
	} else {
		viper.SetConfigName(DefaultConfigFileName)
		viper.AddConfigPath("/etc/localfaas/")
		viper.AddConfigPath("$HOME/")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("localfaas")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || fileName != "" {
			log.Printf("Could not read configuration: %v", err)
		}
	}
}
