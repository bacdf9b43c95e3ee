// Package tools defines the tools agents may call and dispatches them.
//
// # Calls
//
// A tool call from the model arrives as a Request: a name plus a JSON
// argument string. Decode turns it into one of the typed Call variants:
//
//   - WebSearch: web_search{query}
//   - ScheduleTask: schedule_task{name, cron, prompt, agent?}
//   - ListTasks: list_tasks{}
//   - ControlDevice: control_device{device, action, value?}
//   - GenerateCode: generate_code{description, language?}
//   - GetTime: get_time{timezone?}
//
// # Dispatch
//
// Dispatcher checks the calling agent's tool set, decodes the arguments and
// runs the call against a capability interface. Every call produces exactly
// one audit entry:
//
//   - denied: the tool is not in the agent's tool set
//   - failed: bad arguments, a missing capability, or a capability error
//   - executed: the capability returned a result
//
// Capabilities are narrow interfaces (Searcher, DeviceController,
// TaskManager, CodeGenerator) so the gateway decides what is wired.
package tools
