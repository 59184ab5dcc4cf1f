// Package migrations embeds the gateway's schema and seed files so the
// binaries carry them without a deploy-time file layout.
package migrations

import "embed"

//go:embed sql seeds
var Files embed.FS
