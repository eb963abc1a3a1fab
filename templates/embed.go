// Package templates embeds the default configuration and prayer files
// written by sakina setup.
package templates

import "embed"

//go:embed config.yaml prayers.yaml
var FS embed.FS
