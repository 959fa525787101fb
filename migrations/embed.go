// Package migrations embeds SQL migration files into the binary.
//
// Importing it (usually with a blank import) registers the files with the
// database package so db.Migrate can apply them.
package migrations

import (
	"embed"

	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
