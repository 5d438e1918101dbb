// Package migrations embeds the media index schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
