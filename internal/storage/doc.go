// Package storage keeps the run history of pacerd jobs.
//
// Two drivers exist: "sqlite" (modernc.org/sqlite, no cgo) and "file"
// (append-only JSON Lines). Both keep at most Config.Retain records.
package storage
