// Package server exposes the engine over HTTP for hosts that drive it out of
// process.
package server
