package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	providerEnv  = "env"
	providerFile = "file"
)

// EnvResolver reads secret://env/<NAME> from the process environment.
// Path segments are joined with underscores; ?name= overrides them.
type EnvResolver struct{}

func (EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}

	name := parsed.Param("name")
	if name == "" {
		name = strings.Join(parsed.Segments, "_")
	}
	if name == "" {
		return "", fmt.Errorf("env secret %q requires a name", ref)
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", name)
	}
	return value, nil
}

// FileResolver reads secret://file/<absolute path> from disk. Used for
// mounted service-account keys.
type FileResolver struct{}

func (FileResolver) Resolve(_ context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if len(parsed.Segments) == 0 {
		return "", fmt.Errorf("file secret %q requires a path", ref)
	}

	path := string(filepath.Separator) + filepath.Join(parsed.Segments...)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file %s: %w", path, err)
	}
	return string(data), nil
}
