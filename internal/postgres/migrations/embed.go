// Package migrations embeds the SQL schema for the purchase-order store.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
