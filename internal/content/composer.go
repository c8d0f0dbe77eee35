package content

import (
	"context"
	"fmt"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
)

// Composer turns prospects and search results into generator calls and parses the replies.
type Composer struct {
	completer ports.Completer
	brand     Brand
}

// NewComposer wires a content generator with the sender brand.
func NewComposer(completer ports.Completer, brand Brand) *Composer {
	return &Composer{completer: completer, brand: brand}
}

// Compose generates a message for p with the named template.
func (c *Composer) Compose(ctx context.Context, template string, p domain.Prospect) (domain.Message, error) {
	if c == nil || c.completer == nil {
		return domain.Message{}, fmt.Errorf("content generator is not configured")
	}

	id, tpl := Resolve(template)
	reply, err := c.completer.Complete(ctx, tpl(c.brand, p))
	if err != nil {
		return domain.Message{}, fmt.Errorf("complete %s: %w", id, err)
	}

	return ParseMessage(reply, id)
}

// Analyze asks the generator for a structured judgment of a search result.
// Parse failures wrap ErrMalformed.
func (c *Composer) Analyze(ctx context.Context, result domain.SearchResult, topics []string) (Analysis, error) {
	if c == nil || c.completer == nil {
		return Analysis{}, fmt.Errorf("content generator is not configured")
	}

	reply, err := c.completer.Complete(ctx, AnalysisRequest(result, topics))
	if err != nil {
		return Analysis{}, fmt.Errorf("complete analysis: %w", err)
	}

	return ParseAnalysis(reply)
}
