// Package resources holds the static assets compiled into the binary,
// currently the database migrations.
package resources

import "embed"

//go:embed migrations
var FS embed.FS
