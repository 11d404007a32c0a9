// Package datasource discovers and loads ratelprof capture files.
package datasource

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/ratelprof_viewer/internal/capture"
)

// EnvCapture names the environment variable that overrides discovery.
const EnvCapture = "RPV_CAPTURE"

const defaultDir = ".ratelprof"

// candidates are tried in order inside each searched directory.
var candidates = []string{
	filepath.Join(defaultDir, "trace.json"),
	filepath.Join(defaultDir, "trace.msgpack"),
	filepath.Join(defaultDir, "trace.b64"),
}

// Discover finds the capture file path.
// Priority: RPV_CAPTURE env var > .ratelprof/trace.{json,msgpack,b64} in CWD > walk up parents.
func Discover() (string, error) {
	if env := os.Getenv(EnvCapture); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		return "", fmt.Errorf("%s=%q: %w", EnvCapture, env, os.ErrNotExist)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		for _, name := range candidates {
			candidate := filepath.Join(dir, name)
			if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no capture found (looked for %s/trace.{json,msgpack,b64})", defaultDir)
}

// Load reads, decodes and validates the capture at path.
func Load(path string) (*capture.Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := capture.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Open loads the capture at path, or the discovered one when path is empty.
// It returns the path it loaded.
func Open(path string) (*capture.Capture, string, error) {
	if path == "" {
		var err error
		if path, err = Discover(); err != nil {
			return nil, "", err
		}
	}
	c, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return c, path, nil
}
