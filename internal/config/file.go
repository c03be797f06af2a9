package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// LoadFiles applies values from an optional .env file and an optional
// flat YAML file as environment defaults. Variables already set in the
// environment always win, and .env wins over YAML. Missing files are not
// an error; an empty path skips that source.
//
// YAML keys may be written as the variable name (HTTP_ADDR) or in
// lower case (http_addr).
func LoadFiles(envFile, yamlFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if yamlFile == "" {
		return nil
	}

	data, err := os.ReadFile(yamlFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", yamlFile, err)
	}

	values, err := parseYAML(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", yamlFile, err)
	}
	for key, value := range values {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func parseYAML(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch x := v.(type) {
		case nil:
			continue
		case map[string]any, []any:
			return nil, fmt.Errorf("key %s: nested values are not supported", k)
		default:
			out[key] = fmt.Sprint(x)
		}
	}
	return out, nil
}
