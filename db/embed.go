// Package db embeds the SQL schema so the binary can bootstrap its own
// database on startup.
package db

import _ "embed"

// Schema holds the DDL for the catalog, member, order, payment and point
// ledger tables. Statements are idempotent (CREATE ... IF NOT EXISTS).
//
//go:embed migrations/001_schema.sql
var Schema string
