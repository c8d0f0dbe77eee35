package content

import (
	"fmt"
	"strings"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/ports"
)

// TemplateID names a message template.
type TemplateID string

const (
	TemplateInitial         TemplateID = "initial"
	TemplateMediaPitch      TemplateID = "media-pitch"
	TemplateNewsletterPitch TemplateID = "newsletter-pitch"
	TemplateFollowUp        TemplateID = "follow-up"
)

const (
	messageMaxTokens   = 600
	messageTemperature = 0.8
)

// Brand describes the sender side of a pitch.
type Brand struct {
	Name        string
	Description string
	Founder     string
	Highlights  []string
	WordLimit   int
}

// Template builds the generator request for one prospect. Templates are pure.
type Template func(b Brand, p domain.Prospect) ports.CompletionRequest

var templates = map[TemplateID]Template{
	TemplateInitial:         guestPitch,
	TemplateMediaPitch:      mediaPitch,
	TemplateNewsletterPitch: newsletterPitch,
	TemplateFollowUp:        followUp,
}

// Resolve returns the template registered under id, falling back to the initial pitch.
func Resolve(id string) (TemplateID, Template) {
	key := TemplateID(strings.TrimSpace(id))
	if tpl, ok := templates[key]; ok {
		return key, tpl
	}
	return TemplateInitial, templates[TemplateInitial]
}

// Known reports whether id names a registered template.
func Known(id string) bool {
	_, ok := templates[TemplateID(id)]
	return ok
}

func guestPitch(b Brand, p domain.Prospect) ports.CompletionRequest {
	var sb strings.Builder
	sb.WriteString("Write a personalized podcast guest pitch email.\n\n")
	writeProspect(&sb, p)
	writeBrand(&sb, b)
	sb.WriteString("Email should:\n")
	sb.WriteString("- Be genuinely personal and reference their recent work\n")
	sb.WriteString("- Explain what makes our angle unique for their audience\n")
	sb.WriteString("- Suggest two or three specific conversation topics\n")
	sb.WriteString("- Include social proof or traction where it is natural\n")
	writeFormat(&sb, b)
	return messageRequest(sb.String())
}

func mediaPitch(b Brand, p domain.Prospect) ports.CompletionRequest {
	var sb strings.Builder
	sb.WriteString("Write a short media pitch email offering a story to a journalist.\n\n")
	writeProspect(&sb, p)
	writeBrand(&sb, b)
	sb.WriteString("Email should:\n")
	sb.WriteString("- Lead with a newsworthy hook tied to their beat\n")
	sb.WriteString("- Offer data, a spokesperson or a local story\n")
	writeFormat(&sb, b)
	return messageRequest(sb.String())
}

func newsletterPitch(b Brand, p domain.Prospect) ports.CompletionRequest {
	var sb strings.Builder
	sb.WriteString("Write a pitch email proposing a feature or guest piece for a newsletter.\n\n")
	writeProspect(&sb, p)
	writeBrand(&sb, b)
	sb.WriteString("Email should:\n")
	sb.WriteString("- Show familiarity with the newsletter's readers\n")
	sb.WriteString("- Propose one concrete piece and why it fits now\n")
	writeFormat(&sb, b)
	return messageRequest(sb.String())
}

func followUp(b Brand, p domain.Prospect) ports.CompletionRequest {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a brief, friendly follow-up to an earlier pitch email (follow-up #%d).\n\n", p.FollowUpAttempts+1)
	writeProspect(&sb, p)
	writeBrand(&sb, b)
	sb.WriteString("Email should:\n")
	sb.WriteString("- Acknowledge they are busy and not repeat the full pitch\n")
	sb.WriteString("- Add one new reason to reply\n")
	sb.WriteString("- Make it easy to say no\n")
	limit := b.WordLimit
	if limit <= 0 || limit > 120 {
		limit = 120
	}
	writeFormat(&sb, Brand{WordLimit: limit})
	return messageRequest(sb.String())
}

func writeProspect(sb *strings.Builder, p domain.Prospect) {
	fmt.Fprintf(sb, "Prospect: %s\n", fallback(p.Name, "unknown"))
	fmt.Fprintf(sb, "Platform: %s\n", fallback(p.Platform, "unknown"))
	fmt.Fprintf(sb, "URL: %s\n", p.URL)
	if p.Reason != "" {
		fmt.Fprintf(sb, "Reason relevant: %s\n", p.Reason)
	}
	if p.PitchAngle != "" {
		fmt.Fprintf(sb, "Suggested angle: %s\n", p.PitchAngle)
	}
	sb.WriteString("\n")
}

func writeBrand(sb *strings.Builder, b Brand) {
	if b.Name == "" && b.Description == "" {
		return
	}
	fmt.Fprintf(sb, "About %s:\n", fallback(b.Name, "us"))
	if b.Description != "" {
		fmt.Fprintf(sb, "- %s\n", b.Description)
	}
	if b.Founder != "" {
		fmt.Fprintf(sb, "- Founded by %s\n", b.Founder)
	}
	for _, h := range b.Highlights {
		fmt.Fprintf(sb, "- %s\n", h)
	}
	sb.WriteString("\n")
}

func writeFormat(sb *strings.Builder, b Brand) {
	limit := b.WordLimit
	if limit <= 0 {
		limit = 200
	}
	sb.WriteString("- Professional but warm tone\n")
	fmt.Fprintf(sb, "- %d words max\n\n", limit)
	sb.WriteString("Reply with the subject line on the first line, a blank line, then the email body.\n")
}

func messageRequest(prompt string) ports.CompletionRequest {
	temp := messageTemperature
	return ports.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   messageMaxTokens,
		Temperature: &temp,
	}
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
