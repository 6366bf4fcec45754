// Package engine is the stackless execution engine (§4.4): a PC machine over
// an explicit frame/label/value stack, fuel-metered, suspendable at opcode
// boundaries and resumable without ever recursing on the host call stack.
package engine

import (
	"github.com/google/uuid"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/bound"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/ircache"
	"github.com/pulseengine/wrt-sub004/internal/telemetry"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// OutcomeKind tags which branch of Outcome is populated.
type OutcomeKind byte

const (
	OutcomeReturned OutcomeKind = iota
	OutcomeTrapped
	OutcomeSuspended
	OutcomeHostCall
)

// HostCallRequest packages an imported-function invocation for the driver
// to satisfy outside the engine (§4.4 "Host calls").
type HostCallRequest struct {
	Instance *wasm.Instance
	ImportID uint64
	Args     []api.Value
}

// ResumeToken is a plain-data description of a suspended Engine, re-enterable
// via Resume. It carries no reference to transient host resources; the
// snapshot id lets a driver detect a stale token used after Cancel.
type ResumeToken struct {
	FrameDepth int
	ValueDepth int
	SnapshotID uuid.UUID
	forHost    bool
}

// Outcome is the result of Invoke/Resume: exactly one of the four shapes
// described by §4.4's invocation protocol.
type Outcome struct {
	Kind     OutcomeKind
	Results  []api.Value
	Trap     error
	Token    ResumeToken
	HostCall HostCallRequest
}

// Label is a control-flow continuation target on a frame's label stack
// (§3 "Label"): arity, the value-stack height to restore on branch, whether
// it is a loop (branch re-enters) or a block/if (branch exits past end).
type Label struct {
	ContinuationPC int
	ResultArity    int
	ParamArity     int
	StackHeight    int
	IsLoop         bool
}

// frame is the per-call activation record (§3 "Frame"). The instruction
// stream comes from decode, which looks it up in ircache under the
// *wasm.Code that pushCallFrame builds for this call; that pointer is new on
// every call, so the lookup never hits and each call decodes its body again.
type frame struct {
	instr       []ir.Instruction
	pc          int
	locals      []api.Value
	labels      *bound.Vector[Label]
	resultArity int
}

// Config bounds the engine's own stacks, independent of any module's
// declared limits (§5 "Resource Model").
type Config struct {
	MaxValueStack int
	MaxFrameStack int
	MaxLabelStack int
	// MaxCallDepth bounds the explicit frame stack (§6 "max_call_depth",
	// default 1024); exceeding it traps StackOverflow rather than recursing
	// further, matching §3 Trap's "stack overflow" reason.
	MaxCallDepth int
	CostTable     ir.CostTable
	Decoded       *ircache.Cache // shared across engines instantiated from the same Store; may be nil
	// CFIEnabled gates the call_indirect target check beyond the mandatory
	// structural type check every call_indirect already performs: when
	// true, the callee's declared type index must exactly equal the
	// instruction's type-index immediate (nominal match), trapping
	// CfiViolation on a structurally-identical-but-differently-declared
	// target (§4.4 "Control Flow Integrity"). Disabled by default, matching
	// the Wasm spec's own structural-only equivalence rule.
	CFIEnabled bool
	// Metrics, when non-nil, receives fuel/trap/suspension counters on the
	// dispatch loop's boundary events (SPEC_FULL.md §3 "DOMAIN STACK"). Never
	// read on the per-opcode hot path beyond the boundary increments below.
	Metrics *telemetry.Metrics
}

func DefaultConfig() Config {
	return Config{
		MaxValueStack: 4096,
		MaxFrameStack: 256,
		MaxLabelStack: 256,
		MaxCallDepth:  1024,
		CostTable:     ir.DefaultCostTable(),
		Decoded:       ircache.New(256),
	}
}

// Engine drives one Instance's execution (§4.4 "State"). An Engine is not
// safe for concurrent use from multiple goroutines; the scheduling model is
// single-threaded cooperative per Engine (§5).
type Engine struct {
	store    *wasm.Store
	cfg      Config
	values   *bound.Vector[api.Value]
	frames   []*frame
	fuel     uint64
	snapshot uuid.UUID

	pendingHost *HostCallRequest
}

func New(store *wasm.Store, cfg Config) *Engine {
	if cfg.CostTable == nil {
		cfg.CostTable = ir.DefaultCostTable()
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		values: bound.NewVector[api.Value](cfg.MaxValueStack),
	}
}

func (e *Engine) decode(code *wasm.Code) ([]ir.Instruction, error) {
	if e.cfg.Decoded != nil {
		if v, ok := e.cfg.Decoded.Get(code); ok {
			return v.([]ir.Instruction), nil
		}
	}
	instrs, err := ir.Decode(code.Body)
	if err != nil {
		return nil, err
	}
	if e.cfg.Decoded != nil {
		e.cfg.Decoded.Put(code, instrs)
	}
	return instrs, nil
}

func newUUID() uuid.UUID {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.UUID{}
	}
	return id
}

// Invoke implements §4.4's invocation protocol: validates arity/types,
// pushes the callee's initial Frame with args as its leading locals, and
// enters the dispatch loop.
func (e *Engine) Invoke(inst *wasm.Instance, funcIdx uint32, args []api.Value, fuel uint64) Outcome {
	if int(funcIdx) >= len(inst.Functions) {
		return trapOutcome(coreerr.ErrIndexOutOfRange)
	}
	fn := inst.Functions[funcIdx]
	if err := checkArgs(fn.Type, args); err != nil {
		return trapOutcome(err)
	}
	e.fuel = fuel

	if fn.IsHostFunc {
		return Outcome{Kind: OutcomeHostCall, HostCall: HostCallRequest{Instance: inst, ImportID: fn.HostImportID, Args: args}}
	}

	fr, err := e.pushCallFrame(inst, fn, args)
	if err != nil {
		return trapOutcome(err)
	}
	e.frames = append(e.frames, fr)
	return e.run(inst)
}

// Resume re-enters a suspended Engine (§4.4 "Host calls", "Resumability").
// When the pending suspension was a HostCall, results are pushed onto the
// value stack before the dispatch loop continues; when it was a plain fuel
// suspension, results is ignored.
func (e *Engine) Resume(token ResumeToken, results []api.Value, fuel uint64, inst *wasm.Instance) Outcome {
	if token.SnapshotID == (uuid.UUID{}) || token.SnapshotID != e.snapshot {
		return trapOutcome(coreerr.ErrStaleResumeToken)
	}
	e.fuel = fuel
	if token.forHost {
		for _, v := range results {
			if err := e.values.Push(v); err != nil {
				return trapOutcome(err)
			}
		}
		e.pendingHost = nil
	}
	return e.run(inst)
}

// Cancel tears down every live frame without running any destructor
// (§4.4 "engine.cancel(token) // drops frames, runs no destructors").
func (e *Engine) Cancel(token ResumeToken) {
	if token.SnapshotID != e.snapshot {
		return
	}
	e.frames = nil
	_ = e.values.Truncate(0)
	e.pendingHost = nil
	e.snapshot = uuid.UUID{}
}

func checkArgs(sig *wasm.FunctionType, args []api.Value) error {
	if len(args) != len(sig.Params) {
		return coreerr.ErrTypeMismatch
	}
	for i, p := range sig.Params {
		if args[i].Type != p {
			return coreerr.ErrTypeMismatch
		}
	}
	return nil
}

func (e *Engine) pushCallFrame(inst *wasm.Instance, fn *wasm.FuncInstance, args []api.Value) (*frame, error) {
	code := &wasm.Code{TypeIndex: fn.TypeIndex, LocalTypes: fn.LocalTypes, Body: fn.Body}
	instrs, err := e.decode(code)
	if err != nil {
		return nil, err
	}
	locals := make([]api.Value, len(args)+len(fn.LocalTypes))
	copy(locals, args)
	for i, t := range fn.LocalTypes {
		locals[len(args)+i] = api.Default(t)
	}
	return &frame{
		instr:       instrs,
		locals:      locals,
		labels:      bound.NewVector[Label](e.cfg.MaxLabelStack),
		resultArity: len(fn.Type.Results),
	}, nil
}

func trapOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeTrapped, Trap: err}
}

func (e *Engine) suspend() Outcome {
	e.snapshot = newUUID()
	return Outcome{Kind: OutcomeSuspended, Token: ResumeToken{
		FrameDepth: len(e.frames),
		ValueDepth: e.values.Len(),
		SnapshotID: e.snapshot,
	}}
}
