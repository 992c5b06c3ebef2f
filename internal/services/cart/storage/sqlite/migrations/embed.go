// Package migrations embeds the cart SQLite schemas.
package migrations

import "embed"

// EventsFS contains the journal, offset and cluster migrations.
//
//go:embed events/*.sql
var EventsFS embed.FS

// ProjectionsFS contains the read-model migrations.
//
//go:embed projections/*.sql
var ProjectionsFS embed.FS
