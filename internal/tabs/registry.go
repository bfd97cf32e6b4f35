// Package tabs owns the set of open tabs and routes cross-cutting session
// and lifecycle events to the correct tab, creating one only when necessary.
//
// The registry is the single process-wide mutable resource for tab state.
// It subscribes once per mount to the message bus and releases every
// subscription on Close, so routed events can never mutate a torn-down
// registry.
package tabs

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sea922/codestudio/internal/bus"
	"github.com/sea922/codestudio/internal/stream"
	"github.com/sea922/codestudio/pkg/logger"
	"github.com/sea922/codestudio/pkg/util"
)

// Registry holds the ordered tab list, the active tab id, and one stream
// processor per session-bound tab.
type Registry struct {
	mu         sync.Mutex
	tabs       []*Tab
	activeID   string
	nextID     int
	processors map[string]*stream.Processor // keyed by tab ID

	store     stream.OutputStore
	callbacks func(tabID string) stream.Callbacks

	msgBus *bus.MessageBus
	subIDs []string
}

// NewRegistry creates an empty registry. store may be nil when session
// replay from storage is unavailable.
func NewRegistry(store stream.OutputStore) *Registry {
	return &Registry{
		processors: map[string]*stream.Processor{},
		store:      store,
	}
}

// SetProcessorCallbacks installs a factory producing the derived-signal
// callbacks wired into each tab's stream processor. Must be called before
// the first session-bound tab is created.
func (r *Registry) SetProcessorCallbacks(fn func(tabID string) stream.Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = fn
}

// ========================================
// Core operations
// ========================================

// CreateTab appends a new tab, assigns a fresh id, and makes it active.
// An unknown variant yields an inert placeholder rather than an error.
// When fields carry a session id already open in another tab, that tab is
// activated instead and its id returned.
func (r *Registry) CreateTab(typ Type, f Fields) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.SessionID != nil && *f.SessionID != "" {
		if existing := r.findBySessionLocked(*f.SessionID); existing != nil {
			existing.apply(Fields{Title: f.Title, SessionData: f.SessionData})
			r.activeID = existing.ID
			return existing.ID
		}
	}
	return r.createLocked(typ, f)
}

func (r *Registry) createLocked(typ Type, f Fields) string {
	r.nextID++
	tab := &Tab{
		ID:    fmt.Sprintf("tab-%d", r.nextID),
		Type:  typ,
		Inert: !typ.Valid(),
	}
	tab.apply(f)
	if tab.Inert {
		logger.Warn("tabs: unknown tab variant, creating inert placeholder",
			logger.FieldTabID, tab.ID,
			logger.FieldTabType, string(typ),
		)
	}
	r.tabs = append(r.tabs, tab)
	r.activeID = tab.ID
	if tab.Type == TypeChat && tab.SessionID != "" && !tab.Inert {
		r.ensureProcessorLocked(tab.ID)
	}
	return tab.ID
}

// UpdateTab merges fields into the addressed tab. A stale tab id is a
// no-op; close/update races are expected under asynchronous delivery.
func (r *Registry) UpdateTab(tabID string, f Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab := r.findLocked(tabID)
	if tab == nil {
		return
	}
	if f.SessionID != nil && *f.SessionID != "" {
		if other := r.findBySessionLocked(*f.SessionID); other != nil && other.ID != tabID {
			logger.Warn("tabs: refusing duplicate session binding",
				logger.FieldTabID, tabID,
				logger.FieldSessionID, *f.SessionID,
			)
			f.SessionID = nil
		}
	}
	tab.apply(f)
	if tab.Type == TypeChat && tab.SessionID != "" && !tab.Inert {
		r.ensureProcessorLocked(tab.ID)
	}
}

// CloseTab removes the tab. If it was active, activity moves to the
// previous tab in order, else the next, else none. The tab's stream
// processor is detached and its buffers discarded; this is client-side
// only and never signals the backend to stop producing output.
func (r *Registry) CloseTab(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, tab := range r.tabs {
		if tab.ID == tabID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	r.tabs = append(r.tabs[:idx], r.tabs[idx+1:]...)
	r.releaseProcessorLocked(tabID)

	if r.activeID == tabID {
		switch {
		case idx > 0:
			r.activeID = r.tabs[idx-1].ID
		case len(r.tabs) > 0:
			r.activeID = r.tabs[0].ID
		default:
			r.activeID = ""
		}
	}
}

// FindTabBySessionID returns a copy of the tab bound to sessionID.
func (r *Registry) FindTabBySessionID(sessionID string) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tab := r.findBySessionLocked(sessionID); tab != nil {
		return *tab, true
	}
	return Tab{}, false
}

// SwitchTo sets the active tab. Unknown ids are ignored.
func (r *Registry) SwitchTo(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findLocked(tabID) != nil {
		r.activeID = tabID
	}
}

// Tabs returns a snapshot of all open tabs in order.
func (r *Registry) Tabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tab, len(r.tabs))
	for i, tab := range r.tabs {
		out[i] = *tab
	}
	return out
}

// ActiveTabID returns the active tab id, "" when no tab is open.
func (r *Registry) ActiveTabID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Processor returns the stream processor bound to a tab, nil if none.
func (r *Registry) Processor(tabID string) *stream.Processor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processors[tabID]
}

// ========================================
// Session routing
// ========================================

// OpenSession resolves an open-session request: an existing tab bound to
// the session is refreshed and activated, otherwise a new chat tab is
// created and bound. Never creates a duplicate tab for an open session.
func (r *Registry) OpenSession(sess bus.SessionRef) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, _ := json.Marshal(sess)
	if existing := r.findBySessionLocked(sess.ID); existing != nil {
		existing.Title = sessionTitle(sess)
		existing.SessionData = data
		r.activeID = existing.ID
		return existing.ID
	}
	return r.createLocked(TypeChat, Fields{
		Title:       StringPtr(sessionTitle(sess)),
		SessionID:   StringPtr(sess.ID),
		SessionData: RawPtr(data),
	})
}

// SelectSession handles resuming a session from a project's session list.
// If the active tab is a projects tab it is converted in place to a chat
// tab, preserving the selected project so back-navigation can restore the
// list view. Otherwise it behaves like OpenSession.
func (r *Registry) SelectSession(sess bus.SessionRef) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findBySessionLocked(sess.ID); existing != nil {
		r.activeID = existing.ID
		return existing.ID
	}

	data, _ := json.Marshal(sess)
	if active := r.findLocked(r.activeID); active != nil && active.Type == TypeProjects {
		active.Type = TypeChat
		active.originTitle = active.Title
		active.Title = sessionTitle(sess)
		active.SessionID = sess.ID
		active.SessionData = data
		// SelectedProject is intentionally preserved for NavigateBack.
		r.ensureProcessorLocked(active.ID)
		return active.ID
	}
	return r.createLocked(TypeChat, Fields{
		Title:       StringPtr(sessionTitle(sess)),
		SessionID:   StringPtr(sess.ID),
		SessionData: RawPtr(data),
	})
}

// NavigateBack restores a converted chat tab to its originating projects
// view with the same project selected, without re-fetching. No-op for
// tabs that did not originate from a projects conversion.
func (r *Registry) NavigateBack(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab := r.findLocked(tabID)
	if tab == nil || tab.Type != TypeChat || tab.SelectedProject == nil {
		return
	}
	tab.Type = TypeProjects
	tab.Title = tab.originTitle
	if tab.Title == "" {
		tab.Title = "Projects"
	}
	tab.originTitle = ""
	tab.SessionID = ""
	tab.SessionData = nil
	r.releaseProcessorLocked(tabID)
}

// OpenClaudeFile activates an existing tab for the file or opens a new one.
func (r *Registry) OpenClaudeFile(file string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tab := range r.tabs {
		if tab.Type == TypeClaudeFile && tab.ClaudeFile == file {
			r.activeID = tab.ID
			return tab.ID
		}
	}
	return r.createLocked(TypeClaudeFile, Fields{
		Title:      StringPtr(filepath.Base(file)),
		ClaudeFile: StringPtr(file),
	})
}

// OpenAgentExecution opens or refreshes an agent execution view. A request
// without agent data yields an inert placeholder, never an error.
func (r *Registry) OpenAgentExecution(p bus.AgentExecutionPayload) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.TabID != "" {
		if tab := r.findLocked(p.TabID); tab != nil {
			tab.apply(Fields{
				AgentData:   RawPtr(p.Agent),
				ProjectPath: StringPtr(p.ProjectPath),
			})
			r.activeID = tab.ID
			return tab.ID
		}
	}
	id := r.createLocked(TypeAgentExecution, Fields{
		Title:       StringPtr("Agent Execution"),
		AgentData:   RawPtr(p.Agent),
		ProjectPath: StringPtr(p.ProjectPath),
	})
	if len(p.Agent) == 0 {
		r.findLocked(id).Inert = true
		logger.Warn("tabs: agent execution request without agent payload",
			logger.FieldTabID, id,
		)
	}
	return id
}

// openSingleton activates the unique tab of the given variant, creating it
// on first use. Used for the create-agent and import-agent views.
func (r *Registry) openSingleton(typ Type, title string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tab := range r.tabs {
		if tab.Type == typ {
			r.activeID = tab.ID
			return tab.ID
		}
	}
	return r.createLocked(typ, Fields{Title: StringPtr(title)})
}

// ========================================
// Bus wiring
// ========================================

// Attach subscribes the registry to every tab routing event. Call once at
// mount; Close releases all subscriptions.
func (r *Registry) Attach(b *bus.MessageBus) {
	r.mu.Lock()
	r.msgBus = b
	r.mu.Unlock()

	for _, topic := range bus.TabEventTopics {
		id := "tab-registry:" + topic
		sub := b.Subscribe(id, topic)
		r.mu.Lock()
		r.subIDs = append(r.subIDs, id)
		r.mu.Unlock()
		util.SafeGo(func() {
			for msg := range sub.Ch {
				r.route(msg)
			}
		})
	}
}

// Close releases every bus subscription; dispatch loops drain and exit.
func (r *Registry) Close() {
	r.mu.Lock()
	b := r.msgBus
	ids := r.subIDs
	r.subIDs = nil
	r.msgBus = nil
	r.mu.Unlock()

	if b == nil {
		return
	}
	for _, id := range ids {
		b.Unsubscribe(id)
	}
}

// route dispatches one bus event. Malformed payloads for open-* requests
// become inert placeholders; malformed close/switch payloads are ignored.
func (r *Registry) route(msg bus.Message) {
	switch msg.Topic {
	case bus.EventOpenSessionInTab:
		var p bus.OpenSessionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Session.ID == "" {
			r.routeInert(msg, err)
			return
		}
		r.OpenSession(p.Session)

	case bus.EventClaudeSessionSelected:
		var p bus.OpenSessionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Session.ID == "" {
			r.routeInert(msg, err)
			return
		}
		r.SelectSession(p.Session)

	case bus.EventOpenClaudeFile:
		var p bus.ClaudeFilePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.File == "" {
			r.routeInert(msg, err)
			return
		}
		r.OpenClaudeFile(p.File)

	case bus.EventOpenAgentExecution:
		var p bus.AgentExecutionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			r.routeInert(msg, err)
			return
		}
		r.OpenAgentExecution(p)

	case bus.EventOpenCreateAgentTab:
		r.openSingleton(TypeCreateAgent, "Create Agent")

	case bus.EventOpenImportAgentTab:
		r.openSingleton(TypeImportAgent, "Import Agent")

	case bus.EventCloseTab:
		var p bus.TabIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.TabID == "" {
			return
		}
		r.CloseTab(p.TabID)

	case bus.EventSwitchToTab:
		var p bus.TabIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.TabID == "" {
			return
		}
		r.SwitchTo(p.TabID)
	}
}

func (r *Registry) routeInert(msg bus.Message, err error) {
	logger.Warn("tabs: malformed routing payload, creating inert placeholder",
		logger.FieldTopic, msg.Topic,
		logger.FieldError, err,
	)
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.createLocked(Type(msg.Topic), Fields{Title: StringPtr("Unavailable")})
	r.findLocked(id).Inert = true
}

// ========================================
// Internal helpers (callers hold r.mu)
// ========================================

func (r *Registry) findLocked(tabID string) *Tab {
	for _, tab := range r.tabs {
		if tab.ID == tabID {
			return tab
		}
	}
	return nil
}

func (r *Registry) findBySessionLocked(sessionID string) *Tab {
	if sessionID == "" {
		return nil
	}
	for _, tab := range r.tabs {
		if tab.SessionID == sessionID {
			return tab
		}
	}
	return nil
}

func (r *Registry) ensureProcessorLocked(tabID string) {
	if _, ok := r.processors[tabID]; ok {
		return
	}
	var cb stream.Callbacks
	if r.callbacks != nil {
		cb = r.callbacks(tabID)
	}
	r.processors[tabID] = stream.NewProcessor(r.store, cb)
}

func (r *Registry) releaseProcessorLocked(tabID string) {
	if proc, ok := r.processors[tabID]; ok {
		proc.Detach()
		proc.Clear()
		delete(r.processors, tabID)
	}
}

func sessionTitle(sess bus.SessionRef) string {
	if sess.Summary != "" {
		return sess.Summary
	}
	return "Session " + sess.ID
}
