package orchestrator

import (
	"sort"
	"strings"
)

// TemplateVariable describes one {{variable}} placeholder a template expects.
type TemplateVariable struct {
	Name         string
	Required     bool
	DefaultValue string
}

// MissingVariablesError lists required template variables left unresolved:
// no provided value and no default.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return "missing required template variables: " + strings.Join(e.Names, ", ")
}

// RenderTemplate substitutes {{name}} placeholders in content. For each
// declared variable, the provided value wins, then its DefaultValue, else
// (if not required) the placeholder is removed. A required variable with
// neither a provided value nor a default fails the whole render with
// MissingVariablesError listing every such variable, not just the first.
func RenderTemplate(content string, vars []TemplateVariable, provided map[string]string) (string, error) {
	var missing []string
	out := content
	for _, v := range vars {
		value, has := provided[v.Name]
		if !has || value == "" {
			if v.DefaultValue != "" {
				value = v.DefaultValue
			} else if v.Required {
				missing = append(missing, v.Name)
				continue
			} else {
				value = ""
			}
		}
		out = strings.ReplaceAll(out, "{{"+v.Name+"}}", value)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingVariablesError{Names: missing}
	}
	return out, nil
}
