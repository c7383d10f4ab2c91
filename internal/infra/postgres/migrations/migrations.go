// Package migrations holds the schema of the reference backend.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
