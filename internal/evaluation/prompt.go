package evaluation

import (
	"fmt"
	"strings"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/sandbox"
)

// BuildPrompt renders the tutor instructions for one submission. trial may
// be nil when no trial run was made.
func BuildPrompt(language string, mission domain.Mission, code string, trial *sandbox.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an expert %s tutor. Evaluate the following code submission.\n\n", language)
	fmt.Fprintf(&b, "PROBLEM: %s\n%s\n\n", mission.Title, mission.Description)
	fmt.Fprintf(&b, "SUBMITTED CODE:\n```\n%s\n```\n\n", code)

	if trial != nil {
		b.WriteString("TRIAL RUN (the code was executed once without input):\n")
		if trial.TimedOut {
			b.WriteString("The run timed out.\n")
		} else {
			fmt.Fprintf(&b, "Exit code: %d\n", trial.ExitCode)
		}
		if trial.Stdout != "" {
			fmt.Fprintf(&b, "Stdout:\n```\n%s\n```\n", trial.Stdout)
		}
		if trial.Stderr != "" {
			fmt.Fprintf(&b, "Stderr:\n```\n%s\n```\n", trial.Stderr)
		}
		b.WriteString("\n")
	}

	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. If the code is correct, reply briefly: 'Logic verified. Great job!'\n")
	b.WriteString("2. If it is incorrect, give detailed feedback and 2-3 concrete suggestions.\n")
	fmt.Fprintf(&b, "3. At the very end, output a JSON object between %s and %s tags.\n\n", StartMarker, EndMarker)
	b.WriteString("JSON SCHEMA:\n")
	b.WriteString(`{"success": boolean, "score": number, "feedback": string, "suggestions": [string]}`)
	b.WriteString("\n")

	return b.String()
}
