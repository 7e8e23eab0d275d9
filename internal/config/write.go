// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package config

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// WriteDefault writes the built-in defaults as a YAML config file at path,
// creating parent directories as needed. It refuses to overwrite an
// existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return oops.Code("CONFIG_EXISTS").With("path", path).
			Errorf("config file already exists")
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return oops.Code("CONFIG_MARSHAL_FAILED").Wrap(err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
