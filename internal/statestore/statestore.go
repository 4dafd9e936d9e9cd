// Package statestore persists the dedup state: a map of the last event date
// seen per tracking number. The map stays tiny (one entry per shipment ever
// tracked), so every backend loads and saves it whole instead of exposing
// per-key operations.
package statestore

import "context"

type Store interface {
	// Load returns the saved state, or an empty map when nothing was saved
	// yet. Implementations never return a nil map together with a nil error.
	Load(ctx context.Context) (map[string]string, error)
	// Save persists the whole state, replacing the previous one.
	Save(ctx context.Context, state map[string]string) error
}
