package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements the family lookup with ILIKE matching in PostgreSQL.
// It is the fallback when Meilisearch is not configured or unreachable.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// FamilyIDs matches the term against family names, primary contact emails,
// and member profile names/emails, returning deduplicated family ids newest
// first.
func (p *PgSearch) FamilyIDs(ctx context.Context, term string) ([]string, error) {
	if strings.TrimSpace(term) == "" {
		return []string{}, nil
	}
	pattern := "%" + term + "%"

	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id
		FROM families f
		WHERE f.family_name ILIKE $1 OR f.primary_contact_email ILIKE $1
		UNION
		SELECT m.family_id
		FROM family_members m
		JOIN profiles p ON p.id = m.user_id
		WHERE p.first_name ILIKE $1 OR p.last_name ILIKE $1 OR p.email ILIKE $1
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search families: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan family id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate family ids: %w", err)
	}
	return ids, nil
}

// LoadAllRecords returns every family with its flattened member identities,
// for full reindexing into Meilisearch.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]FamilyRecord, error) {
	famRows, err := p.db.QueryContext(ctx, `
		SELECT id, family_name, primary_contact_email, extract(epoch FROM created_at)::bigint
		FROM families
	`)
	if err != nil {
		return nil, fmt.Errorf("load families: %w", err)
	}
	defer famRows.Close()

	records := make([]FamilyRecord, 0)
	byID := make(map[string]int)
	for famRows.Next() {
		var r FamilyRecord
		if err := famRows.Scan(&r.ID, &r.FamilyName, &r.PrimaryContactEmail, &r.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		r.Members = []string{}
		byID[r.ID] = len(records)
		records = append(records, r)
	}
	if err := famRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate families: %w", err)
	}

	memberRows, err := p.db.QueryContext(ctx, `
		SELECT m.family_id, p.first_name, p.last_name, p.email
		FROM family_members m
		JOIN profiles p ON p.id = m.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var familyID, firstName, lastName, email string
		if err := memberRows.Scan(&familyID, &firstName, &lastName, &email); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if i, ok := byID[familyID]; ok {
			records[i].Members = append(records[i].Members,
				strings.TrimSpace(firstName+" "+lastName), email)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return records, nil
}
