package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxleap/tether/host"
	"github.com/voxleap/tether/protocol"
)

// LogForwarder ships host log lines to the orchestrator as fire-and-forget
// log envelopes. Lines emitted while disconnected are dropped rather than
// queued; an unbounded backlog of log lines is worse than a gap.
type LogForwarder struct {
	host      host.Host
	sender    Sender
	component string

	cancel func()
}

// NewLogForwarder subscribes to the host log hub. Lines intercepted by an
// executing fragment never reach the forwarder; the hub routes those to
// the execution capture instead.
func NewLogForwarder(h host.Host, sender Sender, component string) *LogForwarder {
	f := &LogForwarder{
		host:      h,
		sender:    sender,
		component: component,
	}
	f.cancel = h.SubscribeLog(f.forward)
	return f
}

// Stop unsubscribes from the host log hub.
func (f *LogForwarder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *LogForwarder) forward(level, message string) {
	if !f.sender.CanSend() {
		return
	}
	env := protocol.LogEnvelope(&protocol.LogMessage{
		Level:         level,
		Message:       message,
		Module:        "tether",
		Component:     f.component,
		Timestamp:     protocol.Timestamp(time.Now()),
		CorrelationID: uuid.New().String(),
	})
	// Best effort; send failures surface through the transport's own
	// cooldown accounting.
	_ = f.sender.Send(env)
}
