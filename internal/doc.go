// Package internal holds process-level helpers shared by the binaries.
package internal
