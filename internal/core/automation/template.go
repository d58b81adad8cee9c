package automation

import (
	"strings"
)

// Placeholder names available to response templates
const (
	VarCustomerName  = "customer_name"
	VarCustomerPhone = "customer_phone"
	VarPlatform      = "platform"
	VarMessage       = "message"
	VarTenantID      = "tenant_id"
)

// Render substitutes {name} placeholders with vars in a single pass.
// Placeholders without a value stay verbatim and substituted values are
// never expanded again.
func Render(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
