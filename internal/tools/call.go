// ABOUTME: Typed tool call variants and decoding from model-supplied JSON arguments
// ABOUTME: Unknown names decode to ErrToolNotFound; missing required fields to ErrInvalidArguments

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tool names
const (
	NameWebSearch     = "web_search"
	NameScheduleTask  = "schedule_task"
	NameListTasks     = "list_tasks"
	NameControlDevice = "control_device"
	NameGenerateCode  = "generate_code"
	NameGetTime       = "get_time"
)

// Tool errors
var (
	ErrToolNotFound          = errors.New("tool not found")
	ErrInvalidArguments      = errors.New("invalid tool arguments")
	ErrCapabilityUnavailable = errors.New("capability not configured")
)

// Request is a tool call as requested by the model.
type Request struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Call is one of the typed tool variants.
type Call interface {
	ToolName() string
	validate() error
}

// WebSearch searches the web.
type WebSearch struct {
	Query string `json:"query"`
}

// ScheduleTask creates a recurring proactive task.
type ScheduleTask struct {
	Name   string `json:"name"`
	Cron   string `json:"cron"`
	Prompt string `json:"prompt"`
	Agent  string `json:"agent,omitempty"`
}

// ListTasks lists proactive tasks.
type ListTasks struct{}

// ControlDevice sends a command to a smart home device.
type ControlDevice struct {
	Device string `json:"device"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

// GenerateCode asks the code generation capability for a program.
type GenerateCode struct {
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
}

// GetTime reports the current time.
type GetTime struct {
	Timezone string `json:"timezone,omitempty"`
}

func (WebSearch) ToolName() string     { return NameWebSearch }
func (ScheduleTask) ToolName() string  { return NameScheduleTask }
func (ListTasks) ToolName() string     { return NameListTasks }
func (ControlDevice) ToolName() string { return NameControlDevice }
func (GenerateCode) ToolName() string  { return NameGenerateCode }
func (GetTime) ToolName() string       { return NameGetTime }

func (c WebSearch) validate() error {
	return required("query", c.Query)
}

func (c ScheduleTask) validate() error {
	if err := required("name", c.Name); err != nil {
		return err
	}
	if err := required("cron", c.Cron); err != nil {
		return err
	}
	return required("prompt", c.Prompt)
}

func (ListTasks) validate() error { return nil }

func (c ControlDevice) validate() error {
	if err := required("device", c.Device); err != nil {
		return err
	}
	return required("action", c.Action)
}

func (c GenerateCode) validate() error {
	return required("description", c.Description)
}

func (GetTime) validate() error { return nil }

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArguments, field)
	}
	return nil
}

// Decode parses req into its typed variant.
func Decode(req Request) (Call, error) {
	var call Call
	var err error
	switch req.Name {
	case NameWebSearch:
		call, err = decodeInto[WebSearch](req.Arguments)
	case NameScheduleTask:
		call, err = decodeInto[ScheduleTask](req.Arguments)
	case NameListTasks:
		call, err = decodeInto[ListTasks](req.Arguments)
	case NameControlDevice:
		call, err = decodeInto[ControlDevice](req.Arguments)
	case NameGenerateCode:
		call, err = decodeInto[GenerateCode](req.Arguments)
	case NameGetTime:
		call, err = decodeInto[GetTime](req.Arguments)
	default:
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	if err != nil {
		return nil, err
	}
	if err := call.validate(); err != nil {
		return nil, err
	}
	return call, nil
}

func decodeInto[T Call](args string) (Call, error) {
	var v T
	if strings.TrimSpace(args) == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return v, nil
}
