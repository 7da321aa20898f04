package util

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of the environment variable key, or defaultVal if unset.
func GetEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// GetEnvAsInt returns the environment variable key parsed as int, or defaultVal
// if unset or unparsable.
func GetEnvAsInt(key string, defaultVal int) int {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.Atoi(strVal)
	if err != nil {
		return defaultVal
	}

	return val
}

// GetEnvAsBool returns the environment variable key parsed via strconv.ParseBool,
// or defaultVal if unset or unparsable.
func GetEnvAsBool(key string, defaultVal bool) bool {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.ParseBool(strVal)
	if err != nil {
		return defaultVal
	}

	return val
}

// GetEnvAsDuration returns the environment variable key parsed via
// time.ParseDuration, or defaultVal if unset or unparsable.
func GetEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := time.ParseDuration(strVal)
	if err != nil {
		return defaultVal
	}

	return val
}
