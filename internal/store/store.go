// Package store defines the durable record store boundary consumed by the
// chat core. The core treats it as a generic key-value collaborator: presence
// mirrors, reaction entries, friend edges, and profile snapshots are all
// records addressed by string keys and queryable by a single attribute.
package store

import "context"

// Record is one stored record: a flat map of attribute names to values.
type Record map[string]string

// Keyed pairs a record with the key it was stored under, as returned by
// attribute queries.
type Keyed struct {
	Key    string
	Record Record
}

// Store is the durable record store collaborator. Get returns (nil, nil)
// when the key does not exist; absence is not an error at this boundary.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, key string, rec Record) error
	Update(ctx context.Context, key string, patch Record) error
	Delete(ctx context.Context, key string) error
	QueryByAttribute(ctx context.Context, attr, value string) ([]Keyed, error)
}

// Clone returns a shallow copy of a record so callers can mutate the result
// without aliasing store internals.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
