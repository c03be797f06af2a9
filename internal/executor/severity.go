package executor

import (
	"strings"

	"github.com/djlord-it/councilor/internal/domain"
)

// Rule maps any of its keywords, found anywhere in the output, to a severity.
type Rule struct {
	Severity domain.Severity
	Keywords []string
}

// DefaultRules are evaluated in order: the first rule with a matching
// keyword wins. Keywords cover English and Portuguese agent output.
var DefaultRules = []Rule{
	{
		Severity: domain.SeverityError,
		Keywords: []string{"crítico", "erro", "falha", "failed", "error", "critical", "fatal", "exception"},
	},
	{
		Severity: domain.SeverityWarning,
		Keywords: []string{"alerta", "atenção", "warning", "aviso", "vulnerab", "deprecated", "caution"},
	},
}

// Classifier assigns a severity to agent output.
type Classifier struct {
	rules []Rule
}

// NewClassifier lower-cases keywords once. Nil rules means DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	c := &Classifier{rules: make([]Rule, len(rules))}
	for i, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		c.rules[i] = Rule{Severity: r.Severity, Keywords: kw}
	}
	return c
}

// Classify returns the severity of the first matching rule, or success.
// Matching is case-insensitive; empty output is success.
func (c *Classifier) Classify(output string) domain.Severity {
	if strings.TrimSpace(output) == "" {
		return domain.SeveritySuccess
	}
	text := strings.ToLower(output)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(text, k) {
				return r.Severity
			}
		}
	}
	return domain.SeveritySuccess
}

var defaultClassifier = NewClassifier(nil)
