// ABOUTME: JSON schema definitions of every tool, advertised to the model per agent
// ABOUTME: Only tools in an agent's tool set are offered to it

package tools

// Definition describes a tool in the shape function-calling models expect.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var definitions = []Definition{
	{
		Name:        NameWebSearch,
		Description: "Search the web and return the top results",
		Parameters:  object([]string{"query"}, map[string]any{"query": str("Search terms")}),
	},
	{
		Name:        NameScheduleTask,
		Description: "Create a recurring task that runs a prompt on a cron schedule",
		Parameters: object([]string{"name", "cron", "prompt"}, map[string]any{
			"name":   str("Short task name"),
			"cron":   str("Five-field cron expression, e.g. '0 8 * * *'"),
			"prompt": str("What the agent should do on each run"),
			"agent":  str("Agent role that runs the task; defaults to the caller"),
		}),
	},
	{
		Name:        NameListTasks,
		Description: "List scheduled proactive tasks",
		Parameters:  object(nil, map[string]any{}),
	},
	{
		Name:        NameControlDevice,
		Description: "Control a smart home device",
		Parameters: object([]string{"device", "action"}, map[string]any{
			"device": str("Device name, e.g. 'kitchen lights'"),
			"action": str("Action such as on, off, set, lock, unlock"),
			"value":  str("Optional value for set actions, e.g. '21' or '40%'"),
		}),
	},
	{
		Name:        NameGenerateCode,
		Description: "Generate a program or web page from a description",
		Parameters: object([]string{"description"}, map[string]any{
			"description": str("What to build"),
			"language":    str("Target language, e.g. 'html' or 'python'"),
		}),
	},
	{
		Name:        NameGetTime,
		Description: "Get the current date and time",
		Parameters: object(nil, map[string]any{
			"timezone": str("IANA timezone, e.g. 'Europe/Lisbon'; defaults to UTC"),
		}),
	},
}

// Definitions returns the definitions for the given tool names, in the order
// given. Unknown names are skipped.
func Definitions(names []string) []Definition {
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		if d, ok := Lookup(name); ok {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the definition for name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Names returns every known tool name.
func Names() []string {
	names := make([]string, len(definitions))
	for i, d := range definitions {
		names[i] = d.Name
	}
	return names
}
