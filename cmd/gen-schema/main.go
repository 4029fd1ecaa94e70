// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Command gen-schema regenerates schemas/config.schema.json from the
// keepsake config struct so editors can complete config.yaml. Pass a path
// to write elsewhere, or "-" for stdout.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/config"
)

const defaultSchemaPath = "schemas/config.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	target := defaultSchemaPath
	if len(args) > 0 {
		target = args[0]
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		return oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	schema = append(schema, '\n')

	if target == "-" {
		_, err := stdout.Write(schema)
		return oops.Code("SCHEMA_WRITE_FAILED").Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", target).Wrap(err)
	}
	if err := os.WriteFile(target, schema, 0o600); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", target).Wrap(err)
	}

	fmt.Fprintf(stdout, "wrote %s\n", target)
	return nil
}
