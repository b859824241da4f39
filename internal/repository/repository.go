// Package repository defines the journal registry model and its data access interface.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Journal is a registry row keyed by ISSN.
type Journal struct {
	ISSN         string    `json:"issn"`
	Name         string    `json:"name"`
	ImpactFactor *float64  `json:"impact_factor,omitempty"`
	UpdatedAt    time.Time `json:"-"`
}

// JournalRepository defines operations for journal registry persistence
type JournalRepository interface {
	// GetByISSNs returns the known journals among issns, keyed by ISSN.
	// Unknown ISSNs are absent from the map.
	GetByISSNs(ctx context.Context, issns []string) (map[string]Journal, error)
	GetByISSN(ctx context.Context, issn string) (*Journal, error)
	// Upsert inserts or replaces journals and returns how many rows were written.
	Upsert(ctx context.Context, journals []Journal) (int, error)
}

// JournalSearcher finds journals by name.
type JournalSearcher interface {
	// SearchByName returns up to limit journals whose name contains every word,
	// case-insensitively, by descending impact factor. Journals sharing a name
	// appear once, with the highest impact factor.
	SearchByName(ctx context.Context, words []string, limit int) ([]Journal, error)
}
