package tabs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sea922/codestudio/internal/bus"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// ========================================
// Core operations
// ========================================

func TestCreateTab_MakesActive(t *testing.T) {
	r := NewRegistry(nil)
	id1 := r.CreateTab(TypeProjects, Fields{Title: StringPtr("Projects")})
	id2 := r.CreateTab(TypeSettings, Fields{Title: StringPtr("Settings")})

	if id1 == id2 {
		t.Fatalf("ids must be unique, both %q", id1)
	}
	if got := r.ActiveTabID(); got != id2 {
		t.Errorf("active = %q, want %q", got, id2)
	}
	if got := len(r.Tabs()); got != 2 {
		t.Errorf("tab count = %d, want 2", got)
	}
}

func TestCreateTab_UnknownVariantIsInertPlaceholder(t *testing.T) {
	r := NewRegistry(nil)
	id := r.CreateTab(Type("hologram"), Fields{})

	tabs := r.Tabs()
	if len(tabs) != 1 || !tabs[0].Inert {
		t.Fatalf("unknown variant should yield inert placeholder, got %+v", tabs)
	}
	if r.ActiveTabID() != id {
		t.Error("placeholder should still become active")
	}
}

func TestCreateTab_SessionDedup(t *testing.T) {
	r := NewRegistry(nil)
	id1 := r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s1")})
	r.CreateTab(TypeSettings, Fields{})
	id3 := r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s1"), Title: StringPtr("again")})

	if id3 != id1 {
		t.Errorf("duplicate session create returned %q, want existing %q", id3, id1)
	}
	if got := len(r.Tabs()); got != 2 {
		t.Errorf("tab count = %d, want 2 (no duplicate chat tab)", got)
	}
	if r.ActiveTabID() != id1 {
		t.Error("existing session tab should be activated")
	}
}

func TestUpdateTab_StaleIDIsNoOp(t *testing.T) {
	r := NewRegistry(nil)
	r.CreateTab(TypeChat, Fields{Title: StringPtr("keep")})

	r.UpdateTab("tab-999", Fields{Title: StringPtr("ghost")})

	if got := r.Tabs()[0].Title; got != "keep" {
		t.Errorf("title = %q, want keep", got)
	}
}

func TestUpdateTab_MergesPartialFields(t *testing.T) {
	r := NewRegistry(nil)
	id := r.CreateTab(TypeChat, Fields{Title: StringPtr("old"), SessionID: StringPtr("s1")})

	r.UpdateTab(id, Fields{Title: StringPtr("new")})

	tab := r.Tabs()[0]
	if tab.Title != "new" {
		t.Errorf("title = %q, want new", tab.Title)
	}
	if tab.SessionID != "s1" {
		t.Errorf("sessionID = %q, want untouched s1", tab.SessionID)
	}
}

func TestUpdateTab_RefusesDuplicateSessionBinding(t *testing.T) {
	r := NewRegistry(nil)
	r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s1")})
	id2 := r.CreateTab(TypeChat, Fields{})

	r.UpdateTab(id2, Fields{SessionID: StringPtr("s1"), Title: StringPtr("renamed")})

	tabs := r.Tabs()
	if tabs[1].SessionID != "" {
		t.Errorf("second tab sessionID = %q, want empty (dedup invariant)", tabs[1].SessionID)
	}
	if tabs[1].Title != "renamed" {
		t.Error("other fields should still merge")
	}
}

func TestCloseTab_ActivityTransfer(t *testing.T) {
	r := NewRegistry(nil)
	id1 := r.CreateTab(TypeProjects, Fields{})
	id2 := r.CreateTab(TypeChat, Fields{})
	id3 := r.CreateTab(TypeSettings, Fields{})

	// Closing the active last tab moves activity to the previous one.
	r.CloseTab(id3)
	if got := r.ActiveTabID(); got != id2 {
		t.Errorf("active = %q, want previous %q", got, id2)
	}

	// Closing the active first tab moves activity to the next one.
	r.SwitchTo(id1)
	r.CloseTab(id1)
	if got := r.ActiveTabID(); got != id2 {
		t.Errorf("active = %q, want next %q", got, id2)
	}

	// Closing the only tab leaves no active tab.
	r.CloseTab(id2)
	if got := r.ActiveTabID(); got != "" {
		t.Errorf("active = %q, want none", got)
	}
	if len(r.Tabs()) != 0 {
		t.Error("registry should be empty")
	}
}

func TestCloseTab_StaleIDIsNoOp(t *testing.T) {
	r := NewRegistry(nil)
	r.CreateTab(TypeChat, Fields{})
	r.CloseTab("tab-42")
	if len(r.Tabs()) != 1 {
		t.Error("close of unknown tab must not remove anything")
	}
}

func TestCloseTab_DetachesProcessor(t *testing.T) {
	r := NewRegistry(nil)
	id := r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s1")})

	proc := r.Processor(id)
	if proc == nil {
		t.Fatal("session-bound chat tab should have a processor")
	}
	proc.Ingest(`{"kind":"start"}`)

	r.CloseTab(id)

	proc.Ingest(`{"kind":"output","content":"late"}`)
	if got := len(proc.Log()); got != 0 {
		t.Errorf("detached processor log length = %d, want 0 after clear", got)
	}
	if r.Processor(id) != nil {
		t.Error("processor should be released from the registry")
	}
}

func TestFindTabBySessionID(t *testing.T) {
	r := NewRegistry(nil)
	id1 := r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s1")})
	r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s2")})

	tab, ok := r.FindTabBySessionID("s1")
	if !ok || tab.ID != id1 {
		t.Errorf("FindTabBySessionID(s1) = (%+v, %v), want id %q", tab, ok, id1)
	}
	if _, ok := r.FindTabBySessionID("s3"); ok {
		t.Error("unknown session should not be found")
	}
	if _, ok := r.FindTabBySessionID(""); ok {
		t.Error("empty session id should never match")
	}
}

func TestSwitchTo_UnknownIDIgnored(t *testing.T) {
	r := NewRegistry(nil)
	id := r.CreateTab(TypeChat, Fields{})
	r.SwitchTo("tab-404")
	if r.ActiveTabID() != id {
		t.Error("switch to unknown id must not change the active tab")
	}
}

// ========================================
// Session routing
// ========================================

func TestOpenSession_NewAndExisting(t *testing.T) {
	r := NewRegistry(nil)
	sess := bus.SessionRef{ID: "s1", Summary: "fix the tests"}

	id := r.OpenSession(sess)
	tab := r.Tabs()[0]
	if tab.Type != TypeChat || tab.SessionID != "s1" || tab.Title != "fix the tests" {
		t.Errorf("opened tab = %+v", tab)
	}

	// Second open refreshes and activates, never duplicates.
	r.CreateTab(TypeSettings, Fields{})
	again := r.OpenSession(bus.SessionRef{ID: "s1", Summary: "updated summary"})
	if again != id {
		t.Errorf("reopen returned %q, want %q", again, id)
	}
	if got := len(r.Tabs()); got != 2 {
		t.Errorf("tab count = %d, want 2", got)
	}
	if r.Tabs()[0].Title != "updated summary" {
		t.Error("reopen should refresh display fields")
	}
	if r.ActiveTabID() != id {
		t.Error("reopen should activate the existing tab")
	}
}

func TestSelectSession_ConvertsActiveProjectsTabInPlace(t *testing.T) {
	r := NewRegistry(nil)
	project := json.RawMessage(`{"id":"proj-1","path":"/work/demo"}`)
	id := r.CreateTab(TypeProjects, Fields{
		Title:           StringPtr("Projects"),
		SelectedProject: RawPtr(project),
	})

	got := r.SelectSession(bus.SessionRef{ID: "s1", Summary: "resume me"})
	if got != id {
		t.Errorf("conversion should reuse tab %q, got %q", id, got)
	}
	tab := r.Tabs()[0]
	if tab.Type != TypeChat || tab.SessionID != "s1" {
		t.Errorf("converted tab = %+v", tab)
	}
	if string(tab.SelectedProject) != string(project) {
		t.Error("selectedProject must be preserved across conversion")
	}
	if r.Processor(id) == nil {
		t.Error("converted chat tab should gain a processor")
	}
}

func TestSelectSession_NonProjectsActiveCreatesNewTab(t *testing.T) {
	r := NewRegistry(nil)
	r.CreateTab(TypeSettings, Fields{})

	id := r.SelectSession(bus.SessionRef{ID: "s1"})
	if got := len(r.Tabs()); got != 2 {
		t.Fatalf("tab count = %d, want 2", got)
	}
	if r.ActiveTabID() != id {
		t.Error("new chat tab should be active")
	}
}

func TestNavigateBack_RestoresProjectsView(t *testing.T) {
	r := NewRegistry(nil)
	project := json.RawMessage(`{"id":"proj-1"}`)
	id := r.CreateTab(TypeProjects, Fields{SelectedProject: RawPtr(project)})
	r.SelectSession(bus.SessionRef{ID: "s1"})

	r.NavigateBack(id)

	tab := r.Tabs()[0]
	if tab.Type != TypeProjects {
		t.Errorf("type = %q, want projects", tab.Type)
	}
	if string(tab.SelectedProject) != string(project) {
		t.Error("selected project must survive back-navigation")
	}
	if tab.SessionID != "" {
		t.Error("session binding should be released")
	}
	if r.Processor(id) != nil {
		t.Error("processor should be released on back-navigation")
	}
}

func TestNavigateBack_RestoresUserSetTitle(t *testing.T) {
	r := NewRegistry(nil)
	project := json.RawMessage(`{"id":"proj-1"}`)
	id := r.CreateTab(TypeProjects, Fields{
		Title:           StringPtr("Demo workspace"),
		SelectedProject: RawPtr(project),
	})
	r.SelectSession(bus.SessionRef{ID: "s1", Summary: "resume me"})

	r.NavigateBack(id)

	if got := r.Tabs()[0].Title; got != "Demo workspace" {
		t.Errorf("title = %q, want the pre-conversion title back", got)
	}
}

func TestNavigateBack_NoOpWithoutConversion(t *testing.T) {
	r := NewRegistry(nil)
	id := r.CreateTab(TypeChat, Fields{SessionID: StringPtr("s1")})
	r.NavigateBack(id)
	if r.Tabs()[0].Type != TypeChat {
		t.Error("plain chat tab must not be converted by NavigateBack")
	}
}

func TestOpenClaudeFile_DeduplicatesByPath(t *testing.T) {
	r := NewRegistry(nil)
	id := r.OpenClaudeFile("/work/demo/CLAUDE.md")
	again := r.OpenClaudeFile("/work/demo/CLAUDE.md")
	other := r.OpenClaudeFile("/work/other/CLAUDE.md")

	if again != id {
		t.Errorf("same file should reuse tab %q, got %q", id, again)
	}
	if other == id {
		t.Error("different file should open a new tab")
	}
	if r.Tabs()[0].Title != "CLAUDE.md" {
		t.Errorf("title = %q, want CLAUDE.md", r.Tabs()[0].Title)
	}
}

func TestOpenAgentExecution(t *testing.T) {
	r := NewRegistry(nil)
	agent := json.RawMessage(`{"name":"reviewer"}`)

	id := r.OpenAgentExecution(bus.AgentExecutionPayload{Agent: agent, ProjectPath: "/work/demo"})
	tab := r.Tabs()[0]
	if tab.Type != TypeAgentExecution || tab.ProjectPath != "/work/demo" {
		t.Errorf("tab = %+v", tab)
	}

	// Addressing an existing tab refreshes it in place.
	updated := json.RawMessage(`{"name":"fixer"}`)
	got := r.OpenAgentExecution(bus.AgentExecutionPayload{Agent: updated, TabID: id})
	if got != id || len(r.Tabs()) != 1 {
		t.Errorf("targeted request should reuse tab %q, got %q (%d tabs)", id, got, len(r.Tabs()))
	}
	if string(r.Tabs()[0].AgentData) != string(updated) {
		t.Error("agent data should be refreshed")
	}
}

func TestOpenAgentExecution_MissingAgentIsInert(t *testing.T) {
	r := NewRegistry(nil)
	r.OpenAgentExecution(bus.AgentExecutionPayload{})
	if !r.Tabs()[0].Inert {
		t.Error("missing agent payload should yield inert placeholder")
	}
}

// ========================================
// Bus wiring
// ========================================

func TestAttach_RoutesOpenSessionEvent(t *testing.T) {
	b := bus.NewMessageBus()
	r := NewRegistry(nil)
	r.Attach(b)
	defer r.Close()

	b.PublishEvent(bus.EventOpenSessionInTab, "ui", bus.OpenSessionPayload{
		Session: bus.SessionRef{ID: "s1", Summary: "routed"},
	})

	waitFor(t, "routed session tab", func() bool {
		_, ok := r.FindTabBySessionID("s1")
		return ok
	})
}

func TestAttach_RoutesCloseAndSwitch(t *testing.T) {
	b := bus.NewMessageBus()
	r := NewRegistry(nil)
	id1 := r.CreateTab(TypeChat, Fields{})
	id2 := r.CreateTab(TypeSettings, Fields{})
	r.Attach(b)
	defer r.Close()

	b.PublishEvent(bus.EventSwitchToTab, "ui", bus.TabIDPayload{TabID: id1})
	waitFor(t, "switch-to-tab", func() bool { return r.ActiveTabID() == id1 })

	b.PublishEvent(bus.EventCloseTab, "ui", bus.TabIDPayload{TabID: id2})
	waitFor(t, "close-tab", func() bool { return len(r.Tabs()) == 1 })
}

func TestAttach_SingletonAgentTabs(t *testing.T) {
	b := bus.NewMessageBus()
	r := NewRegistry(nil)
	r.Attach(b)
	defer r.Close()

	b.PublishEvent(bus.EventOpenCreateAgentTab, "ui", struct{}{})
	b.PublishEvent(bus.EventOpenCreateAgentTab, "ui", struct{}{})
	b.PublishEvent(bus.EventOpenImportAgentTab, "ui", struct{}{})

	waitFor(t, "singleton agent tabs", func() bool { return len(r.Tabs()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := len(r.Tabs()); got != 2 {
		t.Errorf("tab count = %d, want 2 (create-agent deduplicated)", got)
	}
}

func TestAttach_MalformedOpenPayloadBecomesInert(t *testing.T) {
	b := bus.NewMessageBus()
	r := NewRegistry(nil)
	r.Attach(b)
	defer r.Close()

	b.Publish(bus.Message{
		Topic:   bus.EventOpenSessionInTab,
		Payload: json.RawMessage(`"not an object"`),
	})

	waitFor(t, "inert placeholder", func() bool {
		tabs := r.Tabs()
		return len(tabs) == 1 && tabs[0].Inert
	})
}

func TestClose_ReleasesSubscriptions(t *testing.T) {
	b := bus.NewMessageBus()
	r := NewRegistry(nil)
	r.Attach(b)
	if b.SubscriberCount() == 0 {
		t.Fatal("attach should register subscriptions")
	}

	r.Close()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("subscriber count after Close = %d, want 0", got)
	}

	// Events after Close must not mutate the torn-down registry.
	b.PublishEvent(bus.EventOpenSessionInTab, "ui", bus.OpenSessionPayload{
		Session: bus.SessionRef{ID: "late"},
	})
	time.Sleep(20 * time.Millisecond)
	if len(r.Tabs()) != 0 {
		t.Error("closed registry must ignore routed events")
	}
}
