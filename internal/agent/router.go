// ABOUTME: Rule-based router that picks an agent role for a chat turn
// ABOUTME: Looks only at the latest user message; the first matching rule wins

package agent

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/switchboard-gateway/internal/conversation"
)

// Rule names.
const (
	RuleCreative  = "creative"
	RuleAmbiguous = "ambiguous"
	RuleDefault   = "default"
)

// Rule maps a predicate over the normalized message text to a role.
type Rule struct {
	Name  string
	Match func(text string) bool
	Role  Role
}

// Router selects an agent role for each turn.
type Router struct {
	rules       []Rule
	defaultRole Role
}

// NewRouter builds the ordered rule list from the catalog.
func NewRouter(c *Catalog) *Router {
	creative := normalizeAll(c.Routing.Creative)
	acks := make(map[string]struct{}, len(c.Routing.Acknowledgements))
	for _, a := range normalizeAll(c.Routing.Acknowledgements) {
		acks[a] = struct{}{}
	}
	threshold := c.Routing.ShortThreshold

	rules := []Rule{
		{
			Name:  RuleCreative,
			Match: func(text string) bool { return containsAnyPhrase(text, creative) },
			Role:  c.Default,
		},
		{
			Name: RuleAmbiguous,
			Match: func(text string) bool {
				if utf8.RuneCountInString(text) < threshold {
					return true
				}
				_, ok := acks[text]
				return ok
			},
			Role: c.Default,
		},
	}

	for _, d := range c.Agents {
		if len(d.Keywords) == 0 {
			continue
		}
		keywords := normalizeAll(d.Keywords)
		rules = append(rules, Rule{
			Name:  string(d.Role),
			Match: func(text string) bool { return containsAnyPhrase(text, keywords) },
			Role:  d.Role,
		})
	}

	return &Router{rules: rules, defaultRole: c.Default}
}

// Route returns the role that should handle the latest user message.
func (r *Router) Route(history []conversation.Message) Role {
	role, _ := r.Explain(history)
	return role
}

// Explain returns the chosen role and the name of the rule that chose it.
func (r *Router) Explain(history []conversation.Message) (Role, string) {
	msg, ok := conversation.LastUser(history)
	if !ok {
		return r.defaultRole, RuleDefault
	}
	text := normalize(msg.Content)
	for _, rule := range r.rules {
		if rule.Match(text) {
			return rule.Role, rule.Name
		}
	}
	return r.defaultRole, RuleDefault
}

// Rules returns the rule names in evaluation order.
func (r *Router) Rules() []string {
	names := make([]string, 0, len(r.rules)+1)
	for _, rule := range r.rules {
		names = append(names, rule.Name)
	}
	return append(names, RuleDefault)
}

// normalize lowercases s and collapses every run of non letters/digits into a
// single space, so phrases can be matched on word boundaries.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

func normalizeAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func containsAnyPhrase(text string, phrases []string) bool {
	padded := " " + text + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
