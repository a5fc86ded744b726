// Package model holds the value types shared by the refresh engine.
//
// Routes and places are owned by an external route repository and are only
// read here. Journey options and remarks are created per fetch and are never
// mutated once returned: a refreshed journey is a new value.
package model
