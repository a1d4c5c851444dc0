package store

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir is the directory name embedded above, as goose expects it.
const MigrationsDir = "migrations"
