// Package scripts embeds the default classification scripts.
//
// Each scan match is classified by classify/<ext>.risor when present,
// otherwise by classify/default.risor. A script sees the globals path, ext,
// owner, target and content and evaluates to the classification string.
package scripts

import "embed"

//go:embed classify/*.risor
var FS embed.FS
