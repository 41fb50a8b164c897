// Package migrations carries the SQL schema applied by database.Migrate.
package migrations

import "embed"

// Files holds the ordered *.sql migrations.
//
//go:embed *.sql
var Files embed.FS
