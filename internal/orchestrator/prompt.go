package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sita/internal/llm"
	"sita/internal/model"
)

// buildPrompt renders the agent profile as the system prompt and the task as
// the user prompt.
func buildPrompt(agent *model.Agent, task *model.AgentTask) llm.Prompt {
	var sys strings.Builder
	name := agent.DisplayName
	if name == "" {
		name = agent.Name
	}
	fmt.Fprintf(&sys, "You are %s.", name)
	if agent.Description != "" {
		fmt.Fprintf(&sys, " %s", agent.Description)
	}
	if len(agent.Capabilities) > 0 {
		caps := append([]string(nil), agent.Capabilities...)
		sort.Strings(caps)
		fmt.Fprintf(&sys, "\nCapabilities: %s.", strings.Join(caps, ", "))
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Task type: %s\n", task.TaskType)
	fmt.Fprintf(&user, "Input:\n%s\n", renderJSON(task.InputData))
	if len(task.Context) > 0 {
		fmt.Fprintf(&user, "Context:\n%s\n", renderJSON(task.Context))
	}

	return llm.Prompt{
		System:      sys.String(),
		User:        user.String(),
		Model:       agent.Model,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}
}

func renderJSON(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
