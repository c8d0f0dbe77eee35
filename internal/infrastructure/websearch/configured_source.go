package websearch

import (
	"context"
	"fmt"
	"log/slog"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
	"OutreachEngine/internal/search"
)

// ConfiguredSource implements ports.Searcher via the registered source named in config.
type ConfiguredSource struct {
	registry *search.Registry
	source   string
	logger   *slog.Logger
}

var _ ports.Searcher = (*ConfiguredSource)(nil)

// NewConfiguredSource wires the registry with the configured source name.
func NewConfiguredSource(reg *search.Registry, source string, log *slog.Logger) *ConfiguredSource {
	return &ConfiguredSource{
		registry: reg,
		source:   source,
		logger:   log,
	}
}

// Search resolves the configured strategy and runs the query through it.
func (s *ConfiguredSource) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("discovery registry is not configured")
	}

	strategy, err := s.registry.Resolve(s.source)
	if err != nil {
		return nil, err
	}

	s.debug("run query", "source", s.source, "query", query, "limit", limit)
	results, err := strategy.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.source, err)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	s.debug("query produced results", "source", s.source, "count", len(results))
	return results, nil
}

func (s *ConfiguredSource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
