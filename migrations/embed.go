// Package migrations embeds the controller's SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/Ipswich/sproot-sub000/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
