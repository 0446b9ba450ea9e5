// Package core is the orchestration layer.  It turns the configured
// host list into live SSH sessions and local forwards, owns their
// teardown, and runs the operator command loop.
//
// Layers (bottom → top):
//
//	portscan, prompt, tunnel  →  core  →  cmd (CLI)
//
// The builder in this package is the single place where concrete
// collaborators are wired together from config.Options.
package core
