package generator

import (
	"fmt"
	"strings"
	"time"

	"github.com/cmux-cli/cdpscript/internal/validate"
)

const promptRules = `IMPORTANT RULES:

1. ONLY use commands from the list above
2. Always navigate to a page before interacting with it
3. To click an element, use Runtime.evaluate with JavaScript such as document.querySelector('button').click()
4. To extract data, use Runtime.evaluate with "returnByValue": true
5. For full-page screenshots set "captureBeyondViewport": true
6. Use save_as only on commands that produce output (screenshots, evaluation results, cookies)
7. Give the script a lowercase-hyphenated name and describe every command
`

const promptFormat = `OUTPUT FORMAT (JSON only, no markdown):

{
  "name": "descriptive-name-with-hyphens",
  "description": "Clear description of what this automation does",
  "created": "%s",
  "author": "Claude",
  "tags": ["tag1", "tag2"],
  "cdp_commands": [
    {
      "method": "Page.navigate",
      "params": {"url": "https://example.com"},
      "description": "Navigate to the target page"
    },
    {
      "method": "Page.captureScreenshot",
      "params": {"format": "png", "captureBeyondViewport": true},
      "save_as": "example.png",
      "description": "Capture a full page screenshot"
    }
  ]
}
`

// Prompt builds the prompt for request. The command list comes from the
// registry, so the model is only offered methods that will validate.
// A non-nil feedback result is appended so the model can fix its
// previous answer.
func (g *Generator) Prompt(request string, feedback *validate.Result) string {
	var b strings.Builder
	b.WriteString("You are a browser automation expert generating Chrome DevTools Protocol (CDP) scripts.\n\n")
	fmt.Fprintf(&b, "USER REQUEST: %s\n\n", strings.TrimSpace(request))
	b.WriteString("Generate a JSON script that accomplishes this task using CDP commands.\n\n")

	b.WriteString("AVAILABLE CDP COMMANDS:\n\n")
	for i, e := range g.reg.Entries() {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, e.Method, e.Summary)
		example := fmt.Sprintf(`{"method": %q, "params": %s`, e.Method, e.Example)
		if e.SavesOutput {
			example += `, "save_as": "output-file"`
		}
		fmt.Fprintf(&b, "   %s}\n", example)
	}
	b.WriteByte('\n')

	b.WriteString(promptRules)
	b.WriteByte('\n')
	fmt.Fprintf(&b, promptFormat, g.opts.Now().UTC().Format(time.RFC3339))

	if feedback != nil && !feedback.Valid {
		b.WriteString("\nYOUR PREVIOUS SCRIPT WAS REJECTED. Fix every problem below:\n\n")
		for _, e := range feedback.Errors {
			fmt.Fprintf(&b, "- %s", e.Message)
			if e.Suggestion != "" {
				fmt.Fprintf(&b, " (%s)", e.Suggestion)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nNow generate the CDP script for the user's request. Output ONLY valid JSON, no markdown code blocks.\n")
	return b.String()
}
