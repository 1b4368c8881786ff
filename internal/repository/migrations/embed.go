// Package migrations embeds the SQL schema of the document job stores.
package migrations

import "embed"

// SQLite contains the SQLite migrations, applied in file-name order.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres contains the Postgres migrations, applied in file-name order.
//
//go:embed postgres/*.sql
var Postgres embed.FS
