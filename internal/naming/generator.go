package naming

import (
	"fmt"
	"strings"

	"deckgen/internal/placeholder"
)

const Extension = ".pptx"

// Generator hands out one unique file name per row of a job. Uniqueness is
// case-insensitive and scoped to the generator.
type Generator struct {
	template string
	used     map[string]bool
}

func NewGenerator(template string) *Generator {
	return &Generator{template: template, used: map[string]bool{}}
}

// Next renders the template against the row, sanitizes the result and appends
// _1, _2, ... until the name is unused. index is the zero-based row index.
func (g *Generator) Next(index int, values map[string]string) string {
	base := g.base(index, values)
	name := base
	for n := 1; g.used[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	g.used[strings.ToLower(name)] = true
	return name + Extension
}

func (g *Generator) base(index int, values map[string]string) string {
	rendered := placeholder.Render(g.template, func(name string) (string, bool) {
		return values[name], true
	})
	rendered = strings.TrimSpace(rendered)
	if strings.HasSuffix(strings.ToLower(rendered), Extension) {
		rendered = rendered[:len(rendered)-len(Extension)]
	}
	name := Sanitize(rendered)
	if name == "" {
		name = fmt.Sprintf("row_%d", index+1)
	}
	return name
}
