package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/vigneshprince/expensetracker/internal/ledger"
)

// maxPromptContentChars caps how much raw message text goes into a single
// model call.
const maxPromptContentChars = 15000

// truncate cuts s to at most max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// buildPrompt assembles the fixed-schema extraction prompt: instructions,
// category vocabulary, historical name→category pairs, and the raw message
// text.
func buildPrompt(rawContent string, categories []string, samples []ledger.Sample) string {
	rawContent = truncate(rawContent, maxPromptContentChars)

	var b strings.Builder
	b.WriteString("You are a personal expense extraction assistant.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Read the transaction notification below and extract the expense it describes.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no extra text).\n")
	b.WriteString("- Output a single JSON object with these fields:\n")
	b.WriteString("  - \"amount\": number (the transaction amount)\n")
	b.WriteString("  - \"expenseName\": string (short human-readable name, e.g. merchant)\n")
	b.WriteString("  - \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("  - \"category\": string (one of the categories below)\n")
	b.WriteString("  - \"notes\": string (anything worth keeping, else empty string)\n")
	b.WriteString("  - \"refundRequired\": boolean (true if this looks like a reimbursable or shared expense)\n")
	b.WriteString("- If the text does not describe a transaction, output the literal text null.\n\n")

	if len(categories) > 0 {
		b.WriteString("Use ONLY these categories:\n")
		for _, c := range categories {
			b.WriteString("- " + c + "\n")
		}
		b.WriteString("\n")
	}

	if len(samples) > 0 {
		b.WriteString("Past expenses for disambiguation (name -> category):\n")
		for _, s := range samples {
			b.WriteString("- " + s.ExpenseName + " -> " + s.Category + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Return ONLY valid raw JSON or null.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Do NOT use ```json or any Markdown.\n\n")

	b.WriteString("Message:\n")
	b.WriteString(rawContent)
	b.WriteString("\n")

	return b.String()
}
