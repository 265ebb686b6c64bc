package prompts

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/sevigo/policyrag/schema"
)

var placeholderPattern = regexp.MustCompile(`\{\{\.([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// PromptTemplate is a string with `{{.name}}` placeholders.
type PromptTemplate struct {
	Template string
}

func NewPromptTemplate(template string) PromptTemplate {
	return PromptTemplate{Template: template}
}

// Format substitutes vars in a single pass. Placeholders without a value
// are left in place, and substituted text is never rescanned.
func (p PromptTemplate) Format(vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(p.Template, func(m string) string {
		name := m[3 : len(m)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// FormatStrict is Format that fails when a placeholder has no value.
func (p PromptTemplate) FormatStrict(vars map[string]string) (string, error) {
	var missing []string
	for _, name := range p.Variables() {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: prompt variables without value: %s", schema.ErrConfig, strings.Join(missing, ", "))
	}
	return p.Format(vars), nil
}

// Variables returns the placeholder names in order of first use.
func (p PromptTemplate) Variables() []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(p.Template, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}
