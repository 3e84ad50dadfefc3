package loader

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv reads a dotenv file into the process environment. Variables
// that are already set are left alone. A missing file is ignored unless
// required is set. It returns the keys it actually set.
func LoadDotenv(path string, required bool) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}

	var set []string
	for key, val := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return set, fmt.Errorf("setting %s from %s: %w", key, path, err)
		}
		set = append(set, key)
	}
	return set, nil
}
