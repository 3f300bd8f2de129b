// Package migrations embeds the SQL schema migrations for the audit trail.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
