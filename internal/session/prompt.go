package session

import (
	"fmt"
	"strings"

	"github.com/chadiek/voice-consult/internal/protocol"
)

// buildSystemPrompt assembles the full system prompt from the consultation
// persona, the product catalog summary and the current task list. The
// persona and catalog sections are stable across turns; the DONE/TODO flags
// change as tasks complete, so the model-side prompt cache is only hit on
// turns where no task state changed.
func buildSystemPrompt(base, productSummary string, taskList []protocol.TaskSpec) string {
	var b strings.Builder
	b.WriteString(base)

	if productSummary != "" {
		b.WriteString("\n\n## Available Products\n")
		b.WriteString("You have access to information about these products:\n")
		b.WriteString(productSummary)
		b.WriteString("\n\nWhen recommending products, be specific about product names and their key benefits. Match products to the customer's stated goals and situation.\n")
	}

	if len(taskList) > 0 {
		b.WriteString("\n\n## Your Tasks\n")
		b.WriteString("You have the following tasks to complete during this conversation:\n")
		for _, t := range taskList {
			flag := "[TODO]"
			if t.Completed {
				flag = "[DONE]"
			}
			fmt.Fprintf(&b, "  %d. %s %s\n", t.ID, flag, t.Description)
		}
		b.WriteString("\n## Task Completion Rules\n")
		b.WriteString("- Work through tasks naturally in conversation - don't rush or be robotic\n")
		b.WriteString("- When you have successfully completed a task, include exactly this marker in your response: [TASK_X_DONE] where X is the task number\n")
		b.WriteString("- Only mark a task done when you have genuinely accomplished it (e.g., obtained the information, provided the recommendation, etc.)\n")
		b.WriteString("- You can complete multiple tasks in one response if appropriate\n")
		b.WriteString("- Keep responses concise (2-3 sentences) while working toward your tasks\n")
	}

	return b.String()
}
