// Package domain contains the core types and domain errors for Tablens.
// It has no dependencies on adapters or infrastructure; every other layer
// depends on it.
package domain
