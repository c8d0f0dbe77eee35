package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
)

// ErrMalformed marks generator output that does not have the requested shape.
var ErrMalformed = errors.New("malformed generator output")

const analysisMaxTokens = 500

// Analysis is the structured judgment extracted from one search result.
type Analysis struct {
	ContactPerson  string `json:"contactPerson"`
	Email          string `json:"email"`
	PlatformType   string `json:"platformType"`
	RelevanceScore int    `json:"relevanceScore"`
	Reason         string `json:"reason"`
	PitchAngle     string `json:"pitchAngle"`
}

// AnalysisRequest builds the prompt that asks the generator to judge a result.
func AnalysisRequest(result domain.SearchResult, topics []string) ports.CompletionRequest {
	var sb strings.Builder
	sb.WriteString("Analyze this search result for outreach potential.\n\n")
	fmt.Fprintf(&sb, "Title: %s\nURL: %s\nSnippet: %s\n\n", result.Title, result.URL, result.Snippet)
	if len(topics) > 0 {
		fmt.Fprintf(&sb, "Relevant topics: %s\n\n", strings.Join(topics, ", "))
	}
	sb.WriteString("Extract:\n")
	sb.WriteString("1. contactPerson: contact person name\n")
	sb.WriteString("2. email: email address if found, otherwise empty\n")
	sb.WriteString("3. platformType: podcast, newsletter, blog or other\n")
	sb.WriteString("4. relevanceScore: integer 1-10\n")
	sb.WriteString("5. reason: why it is relevant\n")
	sb.WriteString("6. pitchAngle: suggested pitch angle\n\n")
	sb.WriteString("Respond with a single JSON object using exactly these keys.\n")
	return ports.CompletionRequest{Prompt: sb.String(), MaxTokens: analysisMaxTokens}
}

// ParseAnalysis extracts the JSON object from a generator reply. Markdown fences
// and surrounding prose are tolerated; a missing or non-numeric relevanceScore is not.
func ParseAnalysis(raw string) (Analysis, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return Analysis{}, err
	}

	var payload struct {
		ContactPerson  string          `json:"contactPerson"`
		Email          string          `json:"email"`
		PlatformType   string          `json:"platformType"`
		RelevanceScore json.RawMessage `json:"relevanceScore"`
		Reason         string          `json:"reason"`
		PitchAngle     string          `json:"pitchAngle"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	score, err := parseScore(payload.RelevanceScore)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{
		ContactPerson:  strings.TrimSpace(payload.ContactPerson),
		Email:          normalizeEmail(payload.Email),
		PlatformType:   strings.ToLower(strings.TrimSpace(payload.PlatformType)),
		RelevanceScore: score,
		Reason:         strings.TrimSpace(payload.Reason),
		PitchAngle:     strings.TrimSpace(payload.PitchAngle),
	}, nil
}

// ParseMessage splits a generator reply into subject and body. The first
// paragraph is the subject; a leading "Subject:" label is dropped.
func ParseMessage(raw string, template TemplateID) (domain.Message, error) {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if text == "" {
		return domain.Message{}, fmt.Errorf("%w: empty reply", ErrMalformed)
	}

	subject, body, found := strings.Cut(text, "\n\n")
	if !found {
		subject, body, _ = strings.Cut(text, "\n")
	}

	subject = cleanSubject(subject)
	body = strings.TrimSpace(body)
	if subject == "" || body == "" {
		return domain.Message{}, fmt.Errorf("%w: reply needs a subject and a body", ErrMalformed)
	}

	return domain.Message{Subject: subject, Body: body, Template: string(template)}, nil
}

func cleanSubject(line string) string {
	line = strings.TrimSpace(strings.SplitN(line, "\n", 2)[0])
	line = strings.Trim(line, "*#_ ")
	if len(line) >= len("subject:") && strings.EqualFold(line[:len("subject:")], "subject:") {
		line = line[len("subject:"):]
	}
	return strings.Trim(strings.TrimSpace(line), "*\"")
}

func extractObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object", ErrMalformed)
	}
	return raw[start : end+1], nil
}

const (
	minScore = 1
	maxScore = 10
)

func parseScore(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: relevanceScore missing", ErrMalformed)
	}

	text := strings.Trim(string(raw), "\" ")
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: relevanceScore %s is not a number", ErrMalformed, string(raw))
	}
	score := int(math.Round(f))
	if score < minScore || score > maxScore {
		return 0, fmt.Errorf("%w: relevanceScore %s outside %d..%d", ErrMalformed, text, minScore, maxScore)
	}
	return score, nil
}

func normalizeEmail(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(addr.Address)
}
