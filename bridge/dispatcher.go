package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/voxleap/tether/engine"
	"github.com/voxleap/tether/protocol"
	"github.com/voxleap/tether/scanner"
)

// Sender ships outbound messages to the orchestrator. The transport
// client implements this; tests substitute a recorder.
type Sender interface {
	Send(v any) error
	CanSend() bool
}

// CodeRunner turns dynamically supplied source text into an execution
// result. The engine implements this.
type CodeRunner interface {
	Execute(source string, references []string) *engine.ExecutionResult
	Validate(source string) []protocol.Diagnostic
}

// Dispatcher parses inbound envelopes, routes commands and queries
// through the marshaling queue, and sends exactly one response per
// command/query envelope, keyed by the original correlation id. Unknown
// types and actions get structured errors, never silence.
type Dispatcher struct {
	codec   protocol.Codec
	queue   *Queue
	runner  CodeRunner
	scan    *scanner.Scanner
	sender  Sender
	pending *PendingStore
	log     commonlog.Logger

	stopSweeper func()
}

// NewDispatcher wires a dispatcher. The pending-request sweeper reclaims
// entries whose response path was abandoned.
func NewDispatcher(codec protocol.Codec, queue *Queue, runner CodeRunner, scan *scanner.Scanner, sender Sender) *Dispatcher {
	d := &Dispatcher{
		codec:   codec,
		queue:   queue,
		runner:  runner,
		scan:    scan,
		sender:  sender,
		pending: NewPendingStore(),
		log:     commonlog.GetLogger("tether.dispatch"),
	}
	d.stopSweeper = d.pending.StartSweeper(time.Minute, 10*time.Minute)
	return d
}

// Stop shuts down the dispatcher's background work.
func (d *Dispatcher) Stop() {
	if d.stopSweeper != nil {
		d.stopSweeper()
	}
}

// Pending exposes the in-flight store for inspection.
func (d *Dispatcher) Pending() *PendingStore {
	return d.pending
}

// OnEnvelope handles one raw inbound frame. Called from the network
// context. Work is enqueued synchronously here, so arrival order is
// execution order; only the result await runs on a per-request goroutine,
// so a slow host tick never stalls inbound message processing.
func (d *Dispatcher) OnEnvelope(raw []byte) {
	var env protocol.Envelope
	if err := d.codec.Unmarshal(raw, &env); err != nil {
		id := salvageID(raw)
		d.log.Errorf("malformed envelope: %s", err)
		d.send(protocol.ErrorResponse(id, protocol.ErrKindProtocol, "malformed envelope: "+err.Error()))
		return
	}

	switch env.Type {
	case protocol.TypeCommand:
		d.handleCommand(&env)
	case protocol.TypeQuery:
		d.handleQuery(&env)
	case protocol.TypeLog:
		// Fire-and-forget; recorded, never answered.
		level, _ := env.StringField("level")
		message, _ := env.StringField("message")
		d.log.Infof("orchestrator log [%s]: %s", level, message)
	default:
		d.log.Errorf("unknown envelope type %q (id %s)", env.Type, env.ID)
		d.send(protocol.ErrorResponse(env.ID, protocol.ErrKindProtocol, "unknown envelope type: "+env.Type))
	}
}

// OnDisconnect clears in-flight bookkeeping; the orchestrator's side of
// those requests is gone and responses would have nowhere to land.
func (d *Dispatcher) OnDisconnect(err error) {
	if n := d.pending.Clear(); n > 0 {
		d.log.Warningf("connection lost, dropped %d in-flight requests", n)
	}
}

// handleCommand enqueues the fragment on the marshaling queue and awaits
// its single-shot result off the read loop.
func (d *Dispatcher) handleCommand(env *protocol.Envelope) {
	payload, err := env.CommandPayload()
	if err != nil {
		// Malformed payloads are reported immediately, without touching
		// the execution queue.
		d.send(protocol.ErrorResponse(env.ID, protocol.ErrKindProtocol, err.Error()))
		return
	}

	if !d.pending.Add(env.ID, env.Type, env.Action) {
		inflight, _ := d.pending.Describe(env.ID)
		d.log.Warningf("duplicate command id %q ignored, %s still in flight", env.ID, inflight)
		return
	}

	done := d.queue.Submit(func() any {
		return d.runner.Execute(payload.Code, payload.AdditionalReferences)
	})
	go func() {
		res := <-done
		if res.Err != nil {
			d.respond(env.ID, protocol.ErrorResponse(env.ID, protocol.ErrKindExecution, "execution panicked: "+res.Err.Error()))
			return
		}
		result := res.Value.(*engine.ExecutionResult)
		if result.Success {
			d.respond(env.ID, protocol.SuccessResponse(env.ID, result.Payload()))
			return
		}
		resp := &protocol.Response{
			RequestID: env.ID,
			Status:    protocol.StatusError,
			Payload:   result.Payload(),
		}
		resp.Payload["error"] = errorKindFor(result)
		d.respond(env.ID, resp)
	}()
}

// handleQuery routes a read-only request to the scanner. Queries are
// conservatively marshaled through the same queue as commands; the host
// API makes no cross-thread read guarantees.
func (d *Dispatcher) handleQuery(env *protocol.Envelope) {
	run, err := d.queryClosure(env)
	if err != nil {
		// Unknown actions and malformed arguments never touch the queue.
		d.send(protocol.ErrorResponse(env.ID, protocol.ErrKindProtocol, err.Error()))
		return
	}

	if !d.pending.Add(env.ID, env.Type, env.Action) {
		inflight, _ := d.pending.Describe(env.ID)
		d.log.Warningf("duplicate query id %q ignored, %s still in flight", env.ID, inflight)
		return
	}

	done := d.queue.Submit(func() any { return run() })
	go func() {
		res := <-done
		if res.Err != nil {
			d.respond(env.ID, protocol.ErrorResponse(env.ID, protocol.ErrKindExecution, res.Err.Error()))
			return
		}
		d.respond(env.ID, res.Value.(*protocol.Response))
	}()
}

// queryClosure validates a query envelope and builds the closure that
// answers it on the host tick.
func (d *Dispatcher) queryClosure(env *protocol.Envelope) (func() *protocol.Response, error) {
	switch env.Action {
	case protocol.ActionSceneHierarchy:
		return func() *protocol.Response {
			return protocol.SuccessResponse(env.ID, map[string]any{
				"hierarchy": asPayload(d.scan.Hierarchy()),
			})
		}, nil

	case protocol.ActionGameObjectDetails:
		id, err := env.IntField("instanceId")
		if err != nil {
			return nil, err
		}
		return func() *protocol.Response {
			details, detailsErr := d.scan.ObjectDetails(id)
			if detailsErr != nil {
				return d.scannerError(env.ID, detailsErr)
			}
			return protocol.SuccessResponse(env.ID, asMap(details))
		}, nil

	case protocol.ActionProjectFiles:
		path, err := env.StringField("path")
		if err != nil {
			return nil, err
		}
		return func() *protocol.Response {
			listing, listErr := d.scan.ProjectFiles(path)
			if listErr != nil {
				return d.scannerError(env.ID, listErr)
			}
			return protocol.SuccessResponse(env.ID, asMap(listing))
		}, nil

	case protocol.ActionValidateCode:
		code, err := env.StringField("code")
		if err != nil {
			return nil, err
		}
		if code == "" {
			return nil, fmt.Errorf("query payload is missing %q", "code")
		}
		return func() *protocol.Response {
			diags := d.runner.Validate(code)
			return protocol.SuccessResponse(env.ID, map[string]any{
				"valid":       len(diags) == 0,
				"diagnostics": asPayload(diags),
			})
		}, nil

	default:
		return nil, fmt.Errorf("unknown query action: %s", env.Action)
	}
}

// scannerError maps scanner failures onto the wire taxonomy. Path escapes
// surface as access-denied security errors, never raw filesystem errors.
func (d *Dispatcher) scannerError(id string, err error) *protocol.Response {
	switch {
	case errors.Is(err, scanner.ErrAccessDenied):
		return protocol.ErrorResponse(id, protocol.ErrKindSecurity, "Access denied: "+err.Error())
	case errors.Is(err, scanner.ErrNotFound):
		return protocol.ErrorResponse(id, protocol.ErrKindNotFound, err.Error())
	default:
		return protocol.ErrorResponse(id, protocol.ErrKindExecution, err.Error())
	}
}

// respond sends exactly one response for an in-flight id. Entries already
// completed or cleared on disconnect are dropped here.
func (d *Dispatcher) respond(id string, resp *protocol.Response) {
	if !d.pending.Complete(id) {
		d.log.Warningf("request %q no longer pending, dropping response", id)
		return
	}
	d.send(resp)
}

func (d *Dispatcher) send(resp *protocol.Response) {
	if !d.sender.CanSend() {
		d.log.Warningf("transport unavailable, dropping response for %q", resp.RequestID)
		return
	}
	if err := d.sender.Send(resp); err != nil {
		d.log.Errorf("send response %q: %s", resp.RequestID, err)
	}
}

// errorKindFor classifies an execution failure for the wire.
func errorKindFor(result *engine.ExecutionResult) string {
	if len(result.Diagnostics) > 0 || strings.HasPrefix(result.ErrorMessage, "Compilation Error") {
		return protocol.ErrKindCompile
	}
	return protocol.ErrKindExecution
}

// asPayload reduces a typed value to plain maps and slices for the wire.
func asPayload(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// asMap is asPayload for values known to serialize as objects.
func asMap(v any) map[string]any {
	out, _ := asPayload(v).(map[string]any)
	return out
}

// salvageID pulls a correlation id out of a frame that failed to decode
// as an envelope, so even malformed requests can be answered.
func salvageID(raw []byte) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return ""
	}
	return partial.ID
}
