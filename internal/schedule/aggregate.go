package schedule

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/piewallah/pw-gateway/internal/model"
)

// Fetcher loads the raw today's-schedule items of one batch.
type Fetcher interface {
	FetchToday(ctx context.Context, batchID string) ([]map[string]any, error)
}

// BatchError records a batch whose fetch failed.
type BatchError struct {
	BatchID string `json:"batchId"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

func (e BatchError) Error() string { return fmt.Sprintf("batch %s: %v", e.BatchID, e.Err) }

// Result is the merged view across batches.
type Result struct {
	Items  []model.ScheduleItem `json:"items"`
	Failed []BatchError         `json:"failed,omitempty"`
}

// Aggregator fans out one fetch per batch and merges the results.
type Aggregator struct {
	fetch    Fetcher
	fallback string
	limit    int
}

// NewAggregator returns an Aggregator running at most limit fetches at once.
func NewAggregator(f Fetcher, fallbackImage string, limit int) *Aggregator {
	if limit < 1 {
		limit = 4
	}
	return &Aggregator{fetch: f, fallback: fallbackImage, limit: limit}
}

// Today fetches every batch concurrently. Arrival order does not matter:
// results are merged in the order of batchIDs, deduplicated by id and
// sorted by start time. Failing batches are reported, not fatal, unless all
// of them fail.
func (a *Aggregator) Today(ctx context.Context, batchIDs []string) (Result, error) {
	per := make([][]model.ScheduleItem, len(batchIDs))
	errs := make([]error, len(batchIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, id := range batchIDs {
		g.Go(func() error {
			raw, err := a.fetch.FetchToday(gctx, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			items := make([]model.ScheduleItem, 0, len(raw))
			for _, r := range raw {
				it := FromUpstream(r, id)
				if it.Image == "" {
					it.Image = a.fallback
				}
				items = append(items, it)
			}
			per[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, err := range errs {
		if err != nil {
			res.Failed = append(res.Failed, BatchError{BatchID: batchIDs[i], Err: err, Message: err.Error()})
		}
	}
	res.Items = Merge(per...)
	SortByStart(res.Items)
	if len(batchIDs) > 0 && len(res.Failed) == len(batchIDs) {
		return res, fmt.Errorf("all %d batches failed: %w", len(batchIDs), res.Failed[0])
	}
	return res, nil
}
