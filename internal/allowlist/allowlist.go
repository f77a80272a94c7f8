// Package allowlist holds the set of identities granted administrative
// capability, resolved from configuration at process start.
package allowlist

import "strings"

// List maps lower-cased admin emails to their display names.
type List struct {
	entries map[string]string
}

// Parse builds a List from a comma-separated "email=name" value. Entries
// without an explicit name use the local part of the email.
func Parse(raw string) List {
	entries := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		email, name, found := strings.Cut(pair, "=")
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		if !found || strings.TrimSpace(name) == "" {
			name, _, _ = strings.Cut(email, "@")
		}
		entries[email] = strings.TrimSpace(name)
	}
	return List{entries: entries}
}

// Contains reports whether the email is on the allow-list.
func (l List) Contains(email string) bool {
	_, ok := l.entries[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Lookup returns the display name for an allow-listed email.
func (l List) Lookup(email string) (string, bool) {
	name, ok := l.entries[strings.ToLower(strings.TrimSpace(email))]
	return name, ok
}

// Len returns the number of allow-listed identities.
func (l List) Len() int {
	return len(l.entries)
}
