package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// Load populates spec from environment variables. A .env file in the working
// directory is read first; variables already present in the environment win.
func Load(spec any) error {
	dotenvOnce.Do(func() { dotenvErr = loadDotenv() })
	if dotenvErr != nil {
		return dotenvErr
	}
	return envconfig.Process("", spec)
}

// loadDotenv reads the given files, .env when none are named. Missing files
// are not an error.
func loadDotenv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
