// Package configs holds configuration templates embedded at build time.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .tavren.yaml by `tavren init`. Its
// values mirror the built-in defaults.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
