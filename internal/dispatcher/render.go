package dispatcher

import (
	"regexp"
	"strings"

	"github.com/foxzi/drip/internal/models"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// contactVariables returns the placeholders available to message templates
func contactVariables(c *models.Contact) map[string]string {
	first := c.FirstName()
	return map[string]string{
		"name":          c.FullName,
		"nome":          c.FullName,
		"first_name":    first,
		"primeiro_nome": first,
		"phone":         c.Phone,
		"telefone":      c.Phone,
	}
}

// renderTemplate substitutes {{variable}} patterns in template string
func renderTemplate(template string, vars map[string]string) string {
	if template == "" {
		return template
	}

	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.ToLower(strings.TrimSpace(match[2 : len(match)-2]))
		if value, ok := vars[varName]; ok {
			return value
		}
		// Keep original if variable not found
		return match
	})
}
