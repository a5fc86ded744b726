// Package routestore adapts route persistence to the engine.
//
// The engine only reads routes and bumps usage counters. MemoryStore serves
// routes declared in the configuration file; SQLStore reads a routes table
// in PostgreSQL or MySQL through sqlx.
package routestore
