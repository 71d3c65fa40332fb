package realtime

import (
	"fmt"
	"strings"
)

// BuildInstructions constructs the translator-only system prompt for a
// language pair. An explicit template, when configured, wins; {source} and
// {target} placeholders are substituted either way.
func BuildInstructions(template, source, target, style, extras string) string {
	if strings.TrimSpace(style) == "" {
		style = "natural and concise"
	}
	base := template
	if strings.TrimSpace(base) == "" {
		base = fmt.Sprintf(
			"You are a bilingual translator. Strictly translate all input speech between {source} and {target}. "+
				"If the input is {source}, output {target}. If the input is {target}, output natural, idiomatic {source}. "+
				"Do not add prefaces, commentary, or explanations. Preserve meaning, tone, names, numbers, punctuation, and formatting. "+
				"If proper nouns have a well-known translation, use it. If the input mixes both languages, "+
				"translate each segment into the other language so the output is fully in one language. Speak %s.",
			style,
		)
	}
	out := strings.ReplaceAll(base, "{source}", source)
	out = strings.ReplaceAll(out, "{target}", target)
	if extras = strings.TrimSpace(extras); extras != "" {
		out += " " + extras
	}
	return out
}
