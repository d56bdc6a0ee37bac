// Package command implements the per-request command context and its
// state machine (C6): phase/state tracking, request/response buffers, and
// the module-facing SetReady/SetReserved helpers that enforce each
// phase's capability mask before touching the KV store.
package command

import (
	"fmt"

	"github.com/nestybox/sid/corerr"
	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
)

// validTransitions enumerates the state machine's legal edges (spec
// section 4.5). ERROR is reachable from every non-terminal state, handled
// separately in Fail rather than listed here.
var validTransitions = map[domain.CmdState][]domain.CmdState{
	domain.StateInitializing:      {domain.StateExecScheduled},
	domain.StateExecScheduled:     {domain.StateExecuting},
	domain.StateExecuting:         {domain.StateExecFinished, domain.StateExpectingData},
	domain.StateExpectingData:     {domain.StateExecuting},
	domain.StateExecFinished:      {domain.StateOK, domain.StateExpectingExpbufAck},
	domain.StateExpectingExpbufAck: {domain.StateExpbufAcked},
	domain.StateExpbufAcked:       {domain.StateOK},
}

var _ domain.CommandContextIface = (*Context)(nil)

// Context is the concrete domain.CommandContextIface implementation.
type Context struct {
	devNo domain.DevNo
	cmd   domain.Cmd
	owner string

	phase domain.Phase
	state domain.CmdState

	store domain.Store

	// RequestEnv holds the parsed udev KEY=VALUE environment from the
	// scan request payload (spec section 6).
	RequestEnv map[string]string
	// Response accumulates the udev-property / TABLE/JSON/ENV-formatted
	// bytes destined for the client.
	Response []byte
	// Failed is set once any phase transitions the command into ERROR.
	Failed bool

	errPhaseEntered bool
}

// New creates a freshly INITIALIZING command context for devNo against
// store, attributing core-authored writes (#RDY/#RES bootstrap, hierarchy
// refresh) to the pseudo-owner "core".
func New(store domain.Store, cmd domain.Cmd, devNo domain.DevNo) *Context {
	return &Context{
		devNo:      devNo,
		cmd:        cmd,
		owner:      "core",
		phase:      domain.PhaseInit,
		state:      domain.StateInitializing,
		store:      store,
		RequestEnv: make(map[string]string),
	}
}

func (c *Context) DevNo() domain.DevNo  { return c.devNo }
func (c *Context) Phase() domain.Phase  { return c.phase }
func (c *Context) State() domain.CmdState { return c.state }
func (c *Context) Store() domain.Store  { return c.store }
func (c *Context) Owner() string        { return c.owner }

// SetOwner scopes subsequent SetReady/SetReserved/module writes to name --
// the scan pipeline calls this before invoking each module so ownership
// attribution matches the module actually performing the write.
func (c *Context) SetOwner(name string) { c.owner = name }

// Cmd returns the wire command this context was created to serve.
func (c *Context) Cmd() domain.Cmd { return c.cmd }

// nsPart formats this context's device number as the major_minor string
// used throughout DEVICE-namespace keys.
func (c *Context) nsPart() string {
	return fmt.Sprintf("%d_%d", c.devNo.Major, c.devNo.Minor)
}

func (c *Context) deviceKey(core string) string {
	return keycodec.Key{
		Ns:     keycodec.NsDevice,
		NsPart: c.nsPart(),
		ID:     c.nsPart(),
		Core:   core,
	}.Compose()
}

// SetReady writes the device's #RDY record, if the current phase's
// capability mask permits it (SCAN_PRE, SCAN_CURRENT only).
func (c *Context) SetReady(value string) error {
	if domain.Capabilities[c.phase]&domain.CapRDY == 0 {
		return corerr.Newf(corerr.KindPhaseForbidden, "set_ready not permitted in phase %s", c.phase)
	}
	return c.setBlob(domain.CoreReady, value)
}

// SetReserved writes the device's #RES record, if the current phase's
// capability mask permits it (SCAN_NEXT only).
func (c *Context) SetReserved(value string) error {
	if domain.Capabilities[c.phase]&domain.CapRES == 0 {
		return corerr.Newf(corerr.KindPhaseForbidden, "set_reserved not permitted in phase %s", c.phase)
	}
	return c.setBlob(domain.CoreReserved, value)
}

func (c *Context) setBlob(core, value string) error {
	key := c.deviceKey(core)
	rec := domain.Record{
		Owner:   c.owner,
		Payload: [][]byte{[]byte(value)},
	}
	accepted, _, err := c.store.Set(key, rec, domain.MergeOpCopy, func(old domain.Record, oldOK bool, new domain.Record) bool {
		return true
	})
	if err != nil {
		return err
	}
	if !accepted {
		return corerr.New(corerr.KindFlagConflict, nil)
	}
	return nil
}

// EnsureUnprocessed seeds #RDY/#RES to UNPROCESSED if absent, the INIT
// phase's core-only bootstrap step (spec section 4.4).
func (c *Context) EnsureUnprocessed() {
	for _, core := range []string{domain.CoreReady, domain.CoreReserved} {
		key := c.deviceKey(core)
		if _, ok := c.store.Get(key); ok {
			continue
		}
		_, _, _ = c.store.Set(key, domain.Record{
			Owner:   "core",
			Payload: [][]byte{[]byte(domain.StateUnprocessed)},
		}, domain.MergeOpCopy, func(domain.Record, bool, domain.Record) bool { return true })
	}
}

// advance validates and applies a state transition, returning an error if
// the edge is not legal from the current state.
func (c *Context) advance(next domain.CmdState) error {
	for _, allowed := range validTransitions[c.state] {
		if allowed == next {
			c.state = next
			return nil
		}
	}
	return fmt.Errorf("command: illegal state transition %s -> %s", c.state, next)
}

// Schedule moves INITIALIZING -> EXEC_SCHEDULED, once udev env parsing and
// the deferred handler arming are done.
func (c *Context) Schedule() error { return c.advance(domain.StateExecScheduled) }

// Execute moves EXEC_SCHEDULED -> EXECUTING.
func (c *Context) Execute() error { return c.advance(domain.StateExecuting) }

// AwaitData moves EXECUTING -> EXPECTING_DATA (resource-tree dump needed
// from the main process), then EXPECTING_DATA -> EXECUTING again once the
// handler is rearmed on reply.
func (c *Context) AwaitData() error  { return c.advance(domain.StateExpectingData) }
func (c *Context) DataReady() error  { return c.advance(domain.StateExecuting) }

// Finish moves EXECUTING -> EXEC_FINISHED.
func (c *Context) Finish() error { return c.advance(domain.StateExecFinished) }

// Complete finalizes the command: commands that need the sync handshake
// (ExpectExpbufAck) move through EXPECTING_EXPBUF_ACK/EXPBUF_ACKED; others
// go straight to OK.
func (c *Context) Complete() error {
	if domain.ExpectExpbufAck(c.cmd) {
		return c.advance(domain.StateExpectingExpbufAck)
	}
	return c.advance(domain.StateOK)
}

// Ack moves EXPECTING_EXPBUF_ACK -> EXPBUF_ACKED -> OK once the proxy's
// sync acknowledgement for this command arrives.
func (c *Context) Ack() error {
	if err := c.advance(domain.StateExpbufAcked); err != nil {
		return err
	}
	return c.advance(domain.StateOK)
}

// Fail is reachable unconditionally from any non-terminal state (spec
// section 4.5: "ERROR is terminal from any state").
func (c *Context) Fail() {
	c.Failed = true
	c.state = domain.StateError
}

// EnterErrorPhase transitions the command's phase to PhaseError exactly
// once; subsequent calls are a no-op, matching the "at most one terminal
// transition into ERROR followed by EXIT" testable property.
func (c *Context) EnterErrorPhase() bool {
	if c.errPhaseEntered {
		return false
	}
	c.errPhaseEntered = true
	c.phase = domain.PhaseError
	return true
}

// SetPhase advances the command's scan-pipeline phase. Exposed for the
// scan package's pipeline driver.
func (c *Context) SetPhase(p domain.Phase) { c.phase = p }
