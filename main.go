// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/ZB1234D/Species-Database-App-123/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
