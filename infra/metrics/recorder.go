// Package metrics exposes observability hooks for the hub and the viewer
// notification pipeline. Callers depend on the Recorder interfaces; the
// Prometheus implementation is wired by the server, NoopRecorder elsewhere.
package metrics

// DropReason labels why an event did not reach a viewer.
type DropReason string

const (
	DropMailboxFull  DropReason = "mailbox_full"
	DropSlowConsumer DropReason = "slow_consumer"
	DropClosed       DropReason = "closed"
)

// HubRecorder records server-side fan-out activity.
type HubRecorder interface {
	SetConnections(n int)
	SetStreams(n int)
	IncDelivered(kind string)
	IncDropped(reason DropReason)
	IncRejected(kind string)
}

// QueueRecorder records viewer-side notification queue activity.
type QueueRecorder interface {
	SetQueueDepth(n int)
	IncEnqueued(kind string)
	IncSuppressed(kind string)
	IncEvicted()
	IncMalformed()
	IncReconnects()
}

// NoopRecorder implements every recorder and does nothing.
type NoopRecorder struct{}

func (NoopRecorder) SetConnections(int)     {}
func (NoopRecorder) SetStreams(int)         {}
func (NoopRecorder) IncDelivered(string)    {}
func (NoopRecorder) IncDropped(DropReason)  {}
func (NoopRecorder) IncRejected(string)     {}
func (NoopRecorder) SetQueueDepth(int)      {}
func (NoopRecorder) IncEnqueued(string)     {}
func (NoopRecorder) IncSuppressed(string)   {}
func (NoopRecorder) IncEvicted()            {}
func (NoopRecorder) IncMalformed()          {}
func (NoopRecorder) IncReconnects()         {}
