package resolver

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

// Barrier runs before every store lookup of a resolution and may block
// until key is safe to look up. A non-nil error, normally ctx.Err(), ends
// the resolution.
type Barrier func(ctx context.Context, key string) error

type barrierCtxKey struct{}

// WithBarrier attaches b to ctx. Every lookup made by a resolution running
// under the returned context, at any depth, waits on b first.
func WithBarrier(ctx context.Context, b Barrier) context.Context {
	return context.WithValue(ctx, barrierCtxKey{}, b)
}

func barrierFrom(ctx context.Context) Barrier {
	b, _ := ctx.Value(barrierCtxKey{}).(Barrier)
	return b
}

// LookupKeys returns the values of field in doc as the strings a lookup for
// that document would use. Nil values are skipped.
func LookupKeys(doc *document.Document, field string) []string {
	if doc == nil {
		return nil
	}
	var keys []string
	for _, v := range doc.Values(field) {
		switch vv := v.(type) {
		case nil:
		case string:
			keys = append(keys, vv)
		default:
			keys = append(keys, fmt.Sprint(vv))
		}
	}
	return keys
}
