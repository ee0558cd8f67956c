// Package migrations embeds the schema so the binary can apply it without a checkout.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
