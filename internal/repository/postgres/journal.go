package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/scholarag/internal/repository"
)

// JournalRepo implements repository.JournalRepository
type JournalRepo struct {
	db *DB
}

// NewJournalRepo creates a new journal repository
func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// GetByISSNs retrieves the registered journals among issns
func (r *JournalRepo) GetByISSNs(ctx context.Context, issns []string) (map[string]repository.Journal, error) {
	out := make(map[string]repository.Journal, len(issns))
	if len(issns) == 0 {
		return out, nil
	}

	query := `
		SELECT issn, name, impact_factor, updated_at
		FROM journals
		WHERE issn = ANY($1)
	`
	rows, err := r.db.Pool.Query(ctx, query, issns)
	if err != nil {
		return nil, fmt.Errorf("failed to query journals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var j repository.Journal
		if err := rows.Scan(&j.ISSN, &j.Name, &j.ImpactFactor, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal: %w", err)
		}
		out[j.ISSN] = j
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journals: %w", err)
	}
	return out, nil
}

// GetByISSN retrieves one journal
func (r *JournalRepo) GetByISSN(ctx context.Context, issn string) (*repository.Journal, error) {
	query := `
		SELECT issn, name, impact_factor, updated_at
		FROM journals
		WHERE issn = $1
	`
	var j repository.Journal
	err := r.db.Pool.QueryRow(ctx, query, issn).Scan(&j.ISSN, &j.Name, &j.ImpactFactor, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	return &j, nil
}

// Upsert inserts or replaces journals in one batch
func (r *JournalRepo) Upsert(ctx context.Context, journals []repository.Journal) (int, error) {
	if len(journals) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO journals (issn, name, impact_factor, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (issn) DO UPDATE
		SET name = EXCLUDED.name, impact_factor = EXCLUDED.impact_factor, updated_at = now()
	`
	batch := &pgx.Batch{}
	for _, j := range journals {
		batch.Queue(query, j.ISSN, j.Name, j.ImpactFactor)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range journals {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("failed to upsert journal %s: %w", journals[i].ISSN, err)
		}
	}
	return len(journals), nil
}

// SearchByName finds journals whose name contains every word
func (r *JournalRepo) SearchByName(ctx context.Context, words []string, limit int) ([]repository.Journal, error) {
	patterns := namePatterns(words)
	if len(patterns) == 0 || limit <= 0 {
		return []repository.Journal{}, nil
	}

	query := `
		SELECT issn, name, impact_factor, updated_at
		FROM (
			SELECT DISTINCT ON (lower(name)) issn, name, impact_factor, updated_at
			FROM journals
			WHERE name ILIKE ALL($1)
			ORDER BY lower(name), impact_factor DESC NULLS LAST, issn
		) j
		ORDER BY impact_factor DESC NULLS LAST, name
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search journals: %w", err)
	}
	defer rows.Close()

	journals := []repository.Journal{}
	for rows.Next() {
		var j repository.Journal
		if err := rows.Scan(&j.ISSN, &j.Name, &j.ImpactFactor, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal: %w", err)
		}
		journals = append(journals, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journals: %w", err)
	}
	return journals, nil
}

// namePatterns turns words into ILIKE substring patterns. Blank words are dropped.
func namePatterns(words []string) []string {
	patterns := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			patterns = append(patterns, "%"+likeEscaper.Replace(w)+"%")
		}
	}
	return patterns
}

// likeEscaper escapes LIKE wildcards so user words match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

var (
	_ repository.JournalRepository = (*JournalRepo)(nil)
	_ repository.JournalSearcher   = (*JournalRepo)(nil)
)
