// Package roadmap models the static configuration read by the external
// roadmap generator: which organization, which milestone window, where the
// generated report goes and which projects feed it.
package roadmap
