// ABOUTME: Tests for tool dispatch: permission checks, capability errors and audit outcomes
// ABOUTME: Uses hand-written capability fakes and the in-memory audit log

package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/audit"
)

type fakeSearcher struct {
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type fakeDevices struct {
	cmds []ControlDevice
}

func (f *fakeDevices) Control(_ context.Context, cmd ControlDevice) (string, error) {
	f.cmds = append(f.cmds, cmd)
	return cmd.Device + " ok", nil
}

type fakeTasks struct {
	created      []ScheduleTask
	defaultAgent string
}

func (f *fakeTasks) CreateTask(_ context.Context, call ScheduleTask, defaultAgent string) (TaskSummary, error) {
	f.created = append(f.created, call)
	f.defaultAgent = defaultAgent
	return TaskSummary{ID: "task-1", Name: call.Name, Cron: call.Cron, Agent: defaultAgent, Enabled: true}, nil
}

func (f *fakeTasks) ListTasks(context.Context) ([]TaskSummary, error) {
	return []TaskSummary{{ID: "task-1", Name: "briefing"}}, nil
}

type fakeCode struct{}

func (fakeCode) Generate(_ context.Context, req GenerateCode) (string, error) {
	return "<html>" + req.Description + "</html>", nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	log        *audit.Log
	search     *fakeSearcher
	devices    *fakeDevices
	tasks      *fakeTasks
	catalog    *agent.Catalog
}

func setupDispatcher(t *testing.T, caps *Capabilities) *dispatcherFixture {
	t.Helper()
	cat, err := agent.LoadCatalog()
	require.NoError(t, err)

	log, err := audit.NewLog(context.Background(), audit.NewMemoryStore(), nil)
	require.NoError(t, err)
	t.Cleanup(log.Close)

	f := &dispatcherFixture{
		log:     log,
		search:  &fakeSearcher{results: []SearchResult{{Title: "Go", URL: "https://go.dev"}}},
		devices: &fakeDevices{},
		tasks:   &fakeTasks{},
		catalog: cat,
	}
	if caps == nil {
		caps = &Capabilities{Search: f.search, Devices: f.devices, Tasks: f.tasks, Code: fakeCode{}}
	}
	f.dispatcher = NewDispatcher(*caps, log, nil)
	f.dispatcher.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *dispatcherFixture) def(t *testing.T, role agent.Role) *agent.Definition {
	t.Helper()
	d, ok := f.catalog.Get(role)
	require.True(t, ok)
	return d
}

func (f *dispatcherFixture) lastAudit(t *testing.T) audit.Entry {
	t.Helper()
	entries, err := f.log.Query(context.Background(), 1, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestDispatch_Executed(t *testing.T) {
	f := setupDispatcher(t, nil)

	out := f.dispatcher.Dispatch(context.Background(), f.def(t, agent.RoleResearch),
		Request{ID: "call_1", Name: NameWebSearch, Arguments: `{"query":"golang"}`})

	assert.Equal(t, audit.StatusExecuted, out.Status)
	assert.Contains(t, out.Output, "https://go.dev")
	assert.Empty(t, out.Error)
	assert.Equal(t, []string{"golang"}, f.search.queries)

	e := f.lastAudit(t)
	assert.Equal(t, "research", e.Agent)
	assert.Equal(t, audit.ActionToolInvoke, e.Action)
	assert.Equal(t, NameWebSearch, e.Tool)
	assert.Equal(t, audit.StatusExecuted, e.Status)
}

func TestDispatch_DeniedOutsideToolSet(t *testing.T) {
	f := setupDispatcher(t, nil)

	out := f.dispatcher.Dispatch(context.Background(), f.def(t, agent.RoleResearch),
		Request{Name: NameControlDevice, Arguments: `{"device":"front door","action":"unlock"}`})

	assert.Equal(t, audit.StatusDenied, out.Status)
	assert.Empty(t, f.devices.cmds, "denied tool must not run")
	assert.Equal(t, audit.StatusDenied, f.lastAudit(t).Status)
}

func TestDispatch_FailedOnCapabilityError(t *testing.T) {
	f := setupDispatcher(t, nil)
	f.search.err = errors.New("search backend down")

	out := f.dispatcher.Dispatch(context.Background(), f.def(t, agent.RoleResearch),
		Request{Name: NameWebSearch, Arguments: `{"query":"x"}`})

	assert.Equal(t, audit.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "search backend down")
	e := f.lastAudit(t)
	assert.Equal(t, audit.StatusFailed, e.Status)
	assert.Contains(t, e.Detail, "search backend down")
}

func TestDispatch_FailedOnMissingCapability(t *testing.T) {
	f := setupDispatcher(t, &Capabilities{})

	out := f.dispatcher.Dispatch(context.Background(), f.def(t, agent.RoleOrchestrator),
		Request{Name: NameGenerateCode, Arguments: `{"description":"a game"}`})

	assert.Equal(t, audit.StatusFailed, out.Status)
	assert.Contains(t, out.Error, ErrCapabilityUnavailable.Error())
}

func TestDispatch_FailedOnBadArguments(t *testing.T) {
	f := setupDispatcher(t, nil)

	out := f.dispatcher.Dispatch(context.Background(), f.def(t, agent.RoleDevice),
		Request{Name: NameControlDevice, Arguments: `not json`})

	assert.Equal(t, audit.StatusFailed, out.Status)
	assert.Empty(t, f.devices.cmds)
}

func TestDispatch_ScheduleTaskUsesCallerAsDefaultAgent(t *testing.T) {
	f := setupDispatcher(t, nil)

	out := f.dispatcher.Dispatch(context.Background(), f.def(t, agent.RoleScheduler),
		Request{Name: NameScheduleTask, Arguments: `{"name":"water plants","cron":"0 9 * * *","prompt":"remind me"}`})

	require.Equal(t, audit.StatusExecuted, out.Status)
	require.Len(t, f.tasks.created, 1)
	assert.Equal(t, "scheduler", f.tasks.defaultAgent)
	assert.Contains(t, out.Output, `"id":"task-1"`)
}

func TestDispatch_GetTime(t *testing.T) {
	f := setupDispatcher(t, nil)
	def := f.def(t, agent.RoleDevice)

	out := f.dispatcher.Dispatch(context.Background(), def, Request{Name: NameGetTime})
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Output)

	out = f.dispatcher.Dispatch(context.Background(), def, Request{Name: NameGetTime, Arguments: `{"timezone":"Mars/Olympus"}`})
	assert.Equal(t, audit.StatusFailed, out.Status)
}

func TestDispatchAll_OneAuditEntryPerCall(t *testing.T) {
	f := setupDispatcher(t, nil)

	outcomes := f.dispatcher.DispatchAll(context.Background(), f.def(t, agent.RoleOrchestrator), []Request{
		{Name: NameGenerateCode, Arguments: `{"description":"todo app"}`},
		{Name: NameControlDevice, Arguments: `{"device":"lamp","action":"on"}`},
		{Name: NameListTasks},
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, audit.StatusExecuted, outcomes[0].Status)
	assert.Equal(t, audit.StatusDenied, outcomes[1].Status)
	assert.Equal(t, audit.StatusExecuted, outcomes[2].Status)

	stats := f.log.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Executed)
	assert.Equal(t, 1, stats.Denied)
	assert.Equal(t, 3, stats.ByAgent["orchestrator"])
}
