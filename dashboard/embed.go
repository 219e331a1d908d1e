// Package dashboard provides the embedded web UI for pulsesync diagnostics.
//
// The page lists every stream with its cursor, last outcome and error, and
// follows updates over Server-Sent Events. Buttons call the trigger API.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
//	assets/
//	  index.html    - stream table with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
