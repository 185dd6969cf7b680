package service

import (
	"context"

	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/resource"
	"github.com/oresults/oresults/internal/validate"
	"golang.org/x/sync/errgroup"
)

// Failure is one rejected batch entry.
type Failure struct {
	Message string            `json:"message"`
	Data    document.Document `json:"data"`
	Errors  []validate.Entry  `json:"errors,omitempty"`
}

// BatchResult summarizes a batch update. Entries keep their input order
// within Success and Fail.
type BatchResult struct {
	Success []document.Document `json:"success"`
	Fail    []Failure           `json:"fail"`
	Errors  bool                `json:"errors"`
}

// UpdateBatch runs Update for every entry with at most BatchLimit in flight
// and returns once all of them have finished.
func (s *Service) UpdateBatch(ctx context.Context, res *resource.Resource, inputs []document.Document) BatchResult {
	outcomes := make([]Outcome, len(inputs))

	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, input := range inputs {
		g.Go(func() error {
			outcomes[i] = s.Update(ctx, res, input)
			return nil
		})
	}
	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.BatchSize.Observe(float64(len(inputs)))
	}

	result := BatchResult{
		Success: make([]document.Document, 0, len(inputs)),
		Fail:    make([]Failure, 0),
	}
	for _, out := range outcomes {
		if out.OK() {
			result.Success = append(result.Success, out.Document)
			continue
		}
		result.Fail = append(result.Fail, Failure{
			Message: out.Message,
			Data:    out.Document,
			Errors:  out.Errors,
		})
	}
	result.Errors = len(result.Fail) > 0
	return result
}
