// Package migrations embeds the schema read by the analytics repository.
package migrations

import (
	"embed"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var FS embed.FS

// Source exposes the embedded files as a golang-migrate source driver
func Source() (source.Driver, error) {
	return iofs.New(FS, ".")
}
