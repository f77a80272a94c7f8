// Package search finds families by name, contact email, or member identity.
// Meilisearch serves queries when configured and healthy; a PostgreSQL ILIKE
// union is the fallback. Both return candidate family ids only — the caller
// owns loading and assembling the full family views.
package search

// FamilyRecord is the indexed shape of a family: its own fields plus the
// flattened member names and emails, so one index covers the union the
// portal searches over.
type FamilyRecord struct {
	ID                  string   `json:"id"`
	FamilyName          string   `json:"familyName"`
	PrimaryContactEmail string   `json:"primaryContactEmail"`
	Members             []string `json:"members"`
	CreatedAtUnix       int64    `json:"createdAtUnix"`
}
