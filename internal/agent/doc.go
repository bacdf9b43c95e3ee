// Package agent defines the specialized agent roles and routes chat turns to them.
//
// # Overview
//
// The catalog is static. It is embedded as YAML, parsed once at startup and
// never mutated afterwards:
//
//	cat, err := agent.LoadCatalog()
//	router := agent.NewRouter(cat)
//	role := router.Route(history)
//
// # Roles
//
//   - orchestrator: general conversation, creative requests, code generation
//   - scheduler: reminders and recurring proactive tasks
//   - research: web search and summarisation
//   - device: smart home control through the device webhook
//
// Each Definition carries its system prompt, the tool names it may invoke,
// whether it runs proactive tasks, and the keywords that route to it.
//
// # Routing
//
// Route is a pure function of the latest user message. Rules are evaluated in
// order and the first match wins:
//
//  1. creative: creative vocabulary goes to the orchestrator
//  2. ambiguous: short messages and bare acknowledgements go to the orchestrator
//  3. one keyword rule per catalog agent, in catalog order
//  4. default: the orchestrator
//
// Explain returns the name of the rule that fired alongside the role.
package agent
