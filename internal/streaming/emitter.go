package streaming

// Emitter publishes notices for one session. The zero value discards
// everything, which is what callers without a live viewer get.
type Emitter struct {
	bus       *Bus
	sessionID string
}

// SessionID returns the bound session.
func (e Emitter) SessionID() string { return e.sessionID }

// Emit publishes a notice with the given type, source and text.
func (e Emitter) Emit(kind, source, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(e.sessionID, Notice{Type: kind, Source: source, Message: message})
}

// Invoked announces that source is about to be called.
func (e Emitter) Invoked(source string) {
	e.Emit(NoticeInvoked, source, source+" invoked")
}

// Finished announces that a call to source has returned.
func (e Emitter) Finished(source string) {
	e.Emit(NoticeFinished, source, source+" finished")
}

// ToolCall announces a tool invocation.
func (e Emitter) ToolCall(tool string) {
	e.Emit(NoticeToolCall, tool, "Calling "+tool+"...")
}

// ToolFinished announces a tool has returned.
func (e Emitter) ToolFinished(tool string) {
	e.Emit(NoticeToolResult, tool, tool+" finished")
}
