// Package migrations embeds the broker schema.
package migrations

import "embed"

// FS contains the topic table migrations.
//
//go:embed *.sql
var FS embed.FS
