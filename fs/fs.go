// Package appfs embeds the database migrations and the template assets.
package appfs

import "embed"

// FS holds "migrations/*.sql", "assets/templates/email/*" and "assets/templates/web/*".
//go:embed migrations/*.sql assets/templates/email/* assets/templates/web/*
var FS embed.FS
