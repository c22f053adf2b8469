// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the SQL schema migrations applied by golang-migrate.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
