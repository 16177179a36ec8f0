package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// EnvFile is the .env path loaded before environment lookups. Empty means
// ".env" in the working directory.
var EnvFile = ""

// loadDotEnv loads the .env file once. Variables already set in the process
// environment win.
func loadDotEnv() {
	dotenvOnce.Do(func() {
		path := EnvFile
		if path == "" {
			path = ".env"
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("Warning: failed to load %s, falling back to environment variables: %v", filepath.Clean(path), err)
		}
	})
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.Fields(v)
	}
}

func envInt(key string, dst *int) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &EnvError{Key: key, Value: v, Err: err}
		}
		*dst = n
	}
	return nil
}

func envInt64(key string, dst *int64) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &EnvError{Key: key, Value: v, Err: err}
		}
		*dst = n
	}
	return nil
}

func envBool(key string, dst *bool) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &EnvError{Key: key, Value: v, Err: err}
		}
		*dst = b
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &EnvError{Key: key, Value: v, Err: err}
		}
		*dst = d
	}
	return nil
}

// EnvError is an environment override that did not parse.
type EnvError struct {
	Key   string
	Value string
	Err   error
}

func (e *EnvError) Error() string {
	return "invalid value " + strconv.Quote(e.Value) + " for " + e.Key + ": " + e.Err.Error()
}

func (e *EnvError) Unwrap() error { return e.Err }
