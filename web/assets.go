// Package web contains embedded web UI assets for the gateway's built-in
// status dashboard.
package web

import "embed"

// Assets contains the embedded dashboard assets, served by cmd/vgw under
// /dashboard via http.FileServer(http.FS(Assets)).
//
//go:embed *.html
var Assets embed.FS
