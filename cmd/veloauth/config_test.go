// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

func TestConfigInit_WritesDefaults(t *testing.T) {
	configFile = ""
	path := filepath.Join(t.TempDir(), "veloauth.yaml")

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"config", "init", "--path", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "wrote")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "auth_cache:")
	assert.Contains(t, string(data), "brute_force:")

	// A second run must refuse to overwrite.
	again := NewRootCmd()
	again.SetOut(new(bytes.Buffer))
	again.SetErr(new(bytes.Buffer))
	again.SetArgs([]string{"config", "init", "--path", path})

	err = again.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_EXISTS")
}

func TestConfigInit_UsesGlobalConfigFlag(t *testing.T) {
	configFile = ""
	t.Cleanup(func() { configFile = "" })
	path := filepath.Join(t.TempDir(), "global.yaml")

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", path, "config", "init"})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, path)
}

func TestConfigCheck_ValidFile(t *testing.T) {
	configFile = ""
	t.Cleanup(func() { configFile = "" })
	path := filepath.Join(t.TempDir(), "veloauth.yaml")

	initCmd := NewRootCmd()
	initCmd.SetOut(new(bytes.Buffer))
	initCmd.SetArgs([]string{"config", "init", "--path", path})
	require.NoError(t, initCmd.Execute())

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path, "config", "check"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "configuration is valid")
}

func TestConfigCheck_MissingFile(t *testing.T) {
	configFile = ""
	t.Cleanup(func() { configFile = "" })

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "check"})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_FILE_FAILED")
}

func TestConfigCheck_InvalidValues(t *testing.T) {
	configFile = ""
	t.Cleanup(func() { configFile = "" })
	path := filepath.Join(t.TempDir(), "veloauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600))

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", path, "config", "check"})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
