//go:build !sqlite_cgo

package store

// Default build: pure Go SQLite, no C toolchain required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver in use.
	DriverName = "sqlite"

	// BuildMode describes the driver build.
	BuildMode = "purego"
)
