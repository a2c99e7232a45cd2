// Package db embeds the goose SQL migrations so binaries carry their schema.
package db

import (
	"embed"
	"io/fs"
)

// EmbeddedDir is the directory of the compiled-in migrations.
const EmbeddedDir = "migrations"

// Migrations holds the migration files under EmbeddedDir.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Source picks where migrations are read from: the embedded set for
// EmbeddedDir, otherwise dir on the local filesystem (nil FS).
func Source(dir string) fs.FS {
	if dir == "" || dir == EmbeddedDir {
		return Migrations
	}
	return nil
}
