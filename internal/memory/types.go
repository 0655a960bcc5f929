package memory

import (
	"context"
	"time"
)

type Type string

const (
	TypeShort Type = "short"
	TypeLong  Type = "long"
)

const (
	MinWeight     = 1
	MaxWeight     = 10
	DefaultWeight = 5
)

// Record is one remembered fact. Weight 1-10 ranks importance;
// LastTouched feeds the recency boost during search.
type Record struct {
	ID          string
	Text        string
	Weight      int
	Type        Type
	LastTouched time.Time
	Source      string
}

// Match is a raw similarity-index hit. Distance is 1 - similarity.
type Match struct {
	Record   Record
	Distance float64
}

// Index is the nearest-neighbor service behind the store. Implementations
// return query matches in ascending distance order.
type Index interface {
	Add(ctx context.Context, rec Record) error
	Query(ctx context.Context, text string, n int, filter Type) ([]Match, error)
	Get(ctx context.Context, id string) (Record, bool, error)
	List(ctx context.Context, limit int) ([]Record, error)
	UpdateMeta(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}

func normalizeType(t Type) Type {
	if t == TypeShort {
		return TypeShort
	}
	return TypeLong
}

func clampWeight(w int) int {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}
