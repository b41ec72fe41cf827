// Package builtin embeds the stock optimization rules shipped with the
// optimizer. User rule directories are loaded on top of these.
package builtin

import "embed"

//go:embed *.opt
var FS embed.FS
