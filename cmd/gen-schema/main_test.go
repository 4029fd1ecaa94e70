// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake/keepsake/internal/config"
)

func TestRun_WritesSchemaFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.schema.json")
	var out bytes.Buffer

	require.NoError(t, run([]string{target}, &out))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), config.SchemaID)
	assert.Equal(t, byte('\n'), data[len(data)-1])
	assert.Contains(t, out.String(), target)
}

func TestRun_StdoutTarget(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, run([]string{"-"}, &out))
	assert.Contains(t, out.String(), config.SchemaID)
}
