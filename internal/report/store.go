package report

import (
	"context"
	"encoding/json"
	"fmt"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// DefaultResultsIndex is the index reports land in when none is configured.
const DefaultResultsIndex = "benchmark-results"

// Indexer is the slice of the cluster client the results store needs.
// *cluster.Client satisfies it.
type Indexer interface {
	Do(ctx context.Context, r *cluster.Request) (*cluster.Response, error)
}

// ResultsStore indexes finished reports into the benchmarked cluster so
// runs can be found and compared later.
type ResultsStore struct {
	client Indexer
	index  string
}

// NewResultsStore creates a store writing into the given index. An empty
// index selects DefaultResultsIndex.
func NewResultsStore(client Indexer, index string) *ResultsStore {
	if index == "" {
		index = DefaultResultsIndex
	}
	return &ResultsStore{client: client, index: index}
}

// Name returns the publisher name.
func (s *ResultsStore) Name() string {
	return "store"
}

// Publish indexes the report document under its execution id, overwriting
// any previous document for the same id.
func (s *ResultsStore) Publish(ctx context.Context, report *types.TestReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	rsp, err := s.client.Do(ctx, &cluster.Request{
		Method: "PUT",
		Path:   fmt.Sprintf("/%s/_doc/%s", s.index, report.ExecutionID),
		Body:   body,
	})
	if err != nil {
		return err
	}
	if rsp.StatusCode >= 300 {
		return types.NewTransportError(
			fmt.Sprintf("indexing report into %s failed with HTTP %d", s.index, rsp.StatusCode), nil)
	}

	logger.L().Sugar().Infow("report stored",
		"execution_id", report.ExecutionID, "index", s.index)
	return nil
}

// Close is a no-op; the store does not own the cluster client.
func (s *ResultsStore) Close(ctx context.Context) error {
	return nil
}
