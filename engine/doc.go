// Package engine wires configuration into a running fetch/cache/refresh
// engine and exposes the operations a host application calls.
package engine
