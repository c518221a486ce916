// Package analytics persists stat snapshots to Elasticsearch and serves
// ad-hoc aggregate queries over them.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gamestats-service/internal/config"
	"github.com/gamestats-service/internal/domain"
)

// snapshotMapping types the fields the aggregate queries depend on;
// everything else is left to dynamic mapping.
const snapshotMapping = `{
	"mappings": {
		"properties": {
			"game_id":         {"type": "keyword"},
			"player_id":       {"type": "keyword"},
			"player_alias_id": {"type": "keyword"},
			"stat_id":         {"type": "keyword"},
			"stat_name":       {"type": "keyword"},
			"change":          {"type": "double"},
			"value":           {"type": "double"},
			"global_value":    {"type": "double"},
			"created_at":      {"type": "date"}
		}
	}
}`

// Store is the Elasticsearch-backed analytics store
type Store struct {
	client *elasticsearch.Client
	index  string
	logger *slog.Logger
}

// NewStore creates the analytics store and verifies connectivity
func NewStore(cfg *config.ElasticConfig, logger *slog.Logger) (*Store, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", res.String())
	}

	logger.Info("connected to elasticsearch", "addresses", cfg.Addresses, "index", cfg.SnapshotIndex)

	return &Store{
		client: client,
		index:  cfg.SnapshotIndex,
		logger: logger,
	}, nil
}

// EnsureIndex creates the snapshot index if it does not exist yet
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists(
		[]string{s.index},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("checking snapshot index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(snapshotMapping)),
	)
	if err != nil {
		return fmt.Errorf("creating snapshot index: %w", err)
	}
	defer res.Body.Close()
	// A concurrent instance may have won the race to create it.
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("creating snapshot index: %s", res.String())
	}

	s.logger.Info("snapshot index ready", "index", s.index)
	return nil
}

// BulkInsertSnapshots writes one batch of snapshots. Documents are
// indexed under the snapshot id, so redelivering a batch after a partial
// failure overwrites rather than duplicates.
func (s *Store) BulkInsertSnapshots(ctx context.Context, snapshots []domain.PlayerGameStatSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, snapshot := range snapshots {
		meta, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": s.index, "_id": snapshot.ID},
		})
		if err != nil {
			return fmt.Errorf("encoding bulk action: %w", err)
		}
		doc, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("encoding snapshot %s: %w", snapshot.ID, err)
		}
		body.Write(meta)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := s.client.Bulk(
		bytes.NewReader(body.Bytes()),
		s.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("bulk inserting snapshots: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk inserting snapshots: %s", res.String())
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if bulkRes.Errors {
		for _, item := range bulkRes.Items {
			for _, result := range item {
				if result.Error != nil {
					return fmt.Errorf("bulk insert rejected: %s: %s", result.Error.Type, result.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk insert rejected")
	}

	s.logger.Debug("flushed snapshots to analytics store", "count", len(snapshots))
	return nil
}

// AggregateStat computes value aggregates over the snapshot history of
// one stat
func (s *Store) AggregateStat(ctx context.Context, statID string) (*domain.StatAggregates, error) {
	query := map[string]any{
		"size":  0,
		"query": map[string]any{"term": map[string]any{"stat_id": statID}},
		"aggs": map[string]any{
			"value_stats": map[string]any{
				"stats": map[string]any{"field": "value"},
			},
			"value_median": map[string]any{
				"percentiles": map[string]any{"field": "value", "percents": []float64{50}},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encoding aggregate query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("querying stat aggregates: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("querying stat aggregates: %s", res.String())
	}

	var searchRes struct {
		Aggregations struct {
			ValueStats struct {
				Count int64    `json:"count"`
				Min   *float64 `json:"min"`
				Max   *float64 `json:"max"`
				Avg   *float64 `json:"avg"`
			} `json:"value_stats"`
			ValueMedian struct {
				Values map[string]*float64 `json:"values"`
			} `json:"value_median"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchRes); err != nil {
		return nil, fmt.Errorf("decoding aggregate response: %w", err)
	}

	aggregates := &domain.StatAggregates{
		StatID: statID,
		Count:  searchRes.Aggregations.ValueStats.Count,
	}
	if v := searchRes.Aggregations.ValueStats.Min; v != nil {
		aggregates.Min = *v
	}
	if v := searchRes.Aggregations.ValueStats.Max; v != nil {
		aggregates.Max = *v
	}
	if v := searchRes.Aggregations.ValueStats.Avg; v != nil {
		aggregates.Avg = *v
	}
	if v := searchRes.Aggregations.ValueMedian.Values["50.0"]; v != nil {
		aggregates.Median = *v
	}
	return aggregates, nil
}
