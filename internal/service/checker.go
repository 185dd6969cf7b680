package service

import (
	"context"
	"fmt"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/store"
)

// Checker looks for active documents sharing a uniqueness group with a
// candidate. The answer can be stale by the time the write lands; the unique
// indexes in each backend catch what slips through.
type Checker struct {
	store store.Store
}

func NewChecker(st store.Store) *Checker {
	return &Checker{store: st}
}

// Exists reports whether any uniqueness group of res matches an active
// document other than excludeID. Groups with a missing field are skipped.
func (c *Checker) Exists(ctx context.Context, res *resource.Resource, candidate document.Document, excludeID string) (bool, error) {
	for _, group := range res.UniqueKeys {
		f := store.Filter{
			Equals: map[string]any{document.ActiveKey: true},
			NotID:  excludeID,
		}
		complete := true
		for _, k := range group {
			v, ok := candidate[k]
			if !ok || v == nil {
				complete = false
				break
			}
			f.Equals[k] = v
		}
		if !complete {
			continue
		}
		n, err := c.store.Count(ctx, res.Collection, f)
		if err != nil {
			return false, fmt.Errorf("counting %s duplicates: %w", res.Collection, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}
