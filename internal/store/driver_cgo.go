//go:build sqlite_cgo

package store

// CGO build using the C SQLite amalgamation:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver in use.
	DriverName = "sqlite3"

	// BuildMode describes the driver build.
	BuildMode = "cgo"
)
