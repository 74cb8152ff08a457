// Package migrations embeds the SQL migration files into the binary.
//
// Pass FS as database.Config.Migrations; files sit at the root of the
// embedded filesystem.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
