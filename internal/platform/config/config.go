package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read by Load when no paths are given.
const DefaultEnvFile = ".env"

// Load exports the variables of the given dotenv files into the process
// environment. Variables already set are kept. With no paths DefaultEnvFile
// is read and may be absent; a file named explicitly must exist.
func Load(paths ...string) error {
	if len(paths) == 0 {
		err := godotenv.Load(DefaultEnvFile)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", DefaultEnvFile, err)
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
