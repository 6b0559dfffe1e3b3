// Package db provides embedded database schema and seed files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedItems is the demo catalog loaded by cmd/seed-db.
//
//go:embed seed/items.json
var SeedItems []byte

// SeedCoupons is the demo coupon set loaded by cmd/seed-db.
//
//go:embed seed/coupons.json
var SeedCoupons []byte
