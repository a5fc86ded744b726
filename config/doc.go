// Package config handles application configuration loading and validation.
//
// Configuration is loaded from config.yml and validated using struct tags.
// Every tunable of the engine has a default, so a file only needs the
// upstream base URL and the routes to watch.
package config
