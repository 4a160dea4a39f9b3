// Package migrations embeds the SQL migrations of the score store.
package migrations

import "embed"

//go:embed scores/*.sql
var ScoresFS embed.FS
