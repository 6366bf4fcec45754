package engine

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// trapCodeLabel maps a trap error to the low-cardinality label used by
// telemetry.Metrics.TrapsByCode; unrecognized errors fall back to a single
// "other" bucket rather than ever deriving a label from a formatted string.
func trapCodeLabel(err error) string {
	ce, ok := err.(*coreerr.CoreError)
	if !ok {
		return "other"
	}
	switch ce.Code {
	case coreerr.CodeUnreachable:
		return "unreachable"
	case coreerr.CodeIntegerDivByZero:
		return "integer_div_by_zero"
	case coreerr.CodeIntegerOverflow:
		return "integer_overflow"
	case coreerr.CodeInvalidConversion:
		return "invalid_conversion"
	case coreerr.CodeOutOfBounds:
		return "out_of_bounds"
	case coreerr.CodeIndirectCallTypeMismatch:
		return "indirect_call_type_mismatch"
	case coreerr.CodeUninitializedElement:
		return "uninitialized_element"
	case coreerr.CodeStackOverflow:
		return "stack_overflow"
	case coreerr.CodeFuelExhausted:
		return "fuel_exhausted"
	case coreerr.CodeCfiViolation:
		return "cfi_violation"
	case coreerr.CodeStaleResumeToken:
		return "stale_resume_token"
	case coreerr.CodeIntegrityFailure:
		return "integrity_failure"
	case coreerr.CodeHostAbort:
		return "host_abort"
	default:
		return "other"
	}
}

// run is the dispatch loop (§4.4 "Dispatch loop"): fetch/deduct-fuel/execute
// until the frame stack empties (Returned), a trap fires (Trapped), fuel
// hits zero (Suspended), or an imported function is reached (HostCall).
func (e *Engine) run(inst *wasm.Instance) Outcome {
	for len(e.frames) > 0 {
		fr := e.frames[len(e.frames)-1]

		if fr.pc >= len(fr.instr) {
			// Implicit function end never reached through OpEnd dispatch
			// (a validated body always ends on OpEnd); defensive only.
			if out, done := e.popFrame(fr); done {
				return out
			}
			continue
		}

		instrc := fr.instr[fr.pc]
		cost := uint64(e.cfg.CostTable.CostOf(instrc.Op))
		if e.fuel == 0 || cost > e.fuel {
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.SuspensionsTotal.Inc()
			}
			return e.suspend()
		}

		e.fuel -= cost
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.FuelConsumedTotal.Add(float64(cost))
		}

		out, advance, trapped := e.step(inst, fr, instrc)
		if trapped != nil {
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.TrapsByCode.WithLabelValues(trapCodeLabel(trapped)).Inc()
			}
			return trapOutcome(trapped)
		}
		if out != nil {
			return *out
		}
		fr.pc = advance
	}
	return Outcome{Kind: OutcomeReturned}
}

// popFrame finishes the current frame: gathers its result arity worth of
// values (already sitting atop the shared value stack) and either exposes
// them to the next-outer frame (by simply leaving them on the stack and
// resuming that frame's pc) or, for the outermost frame, returns them as the
// invocation's Outcome.
func (e *Engine) popFrame(fr *frame) (Outcome, bool) {
	e.frames = e.frames[:len(e.frames)-1]
	if len(e.frames) == 0 {
		results := make([]api.Value, fr.resultArity)
		for i := fr.resultArity - 1; i >= 0; i-- {
			v, err := e.values.Pop()
			if err != nil {
				return trapOutcome(err), true
			}
			results[i] = v
		}
		return Outcome{Kind: OutcomeReturned, Results: results}, true
	}
	return Outcome{}, false
}

// step executes one instruction. It returns a non-nil *Outcome when the
// dispatch loop must stop immediately (a host call was reached); a non-nil
// error on trap; otherwise the next pc to resume the current frame at.
func (e *Engine) step(inst *wasm.Instance, fr *frame, in ir.Instruction) (*Outcome, int, error) {
	switch in.Op {
	case ir.OpUnreachable:
		return nil, 0, coreerr.ErrUnreachable
	case ir.OpNop:
		return nil, fr.pc + 1, nil

	case ir.OpBlock, ir.OpLoop:
		resArity, paramArity := blockArity(inst, in.Block)
		label := Label{ResultArity: resArity, ParamArity: paramArity, StackHeight: e.values.Len(), IsLoop: in.Op == ir.OpLoop}
		if in.Op == ir.OpLoop {
			label.ContinuationPC = fr.pc + 1
		} else {
			label.ContinuationPC = in.EndAt + 1
		}
		if err := fr.labels.Push(label); err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, nil

	case ir.OpIf:
		cond, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		resArity, paramArity := blockArity(inst, in.Block)
		label := Label{ResultArity: resArity, ParamArity: paramArity, StackHeight: e.values.Len(), ContinuationPC: in.EndAt + 1}
		if err := fr.labels.Push(label); err != nil {
			return nil, 0, err
		}
		if cond.I32() != 0 {
			return nil, fr.pc + 1, nil
		}
		if in.ElseAt != 0 {
			return nil, in.ElseAt + 1, nil
		}
		fr.labels.Pop()
		return nil, in.EndAt + 1, nil

	case ir.OpElse:
		// Reached only by falling off the end of the true branch: behaves
		// like branching out of the enclosing if with its result arity.
		label, err := fr.labels.Pop()
		if err != nil {
			return nil, 0, err
		}
		if err := e.carryBranchValues(label, label.ResultArity); err != nil {
			return nil, 0, err
		}
		return nil, in.EndAt + 1, nil

	case ir.OpEnd:
		if fr.labels.Len() > 0 {
			fr.labels.Pop()
			return nil, fr.pc + 1, nil
		}
		out, done := e.popFrame(fr)
		if done {
			return &out, 0, nil
		}
		return nil, 0, nil

	case ir.OpBr:
		pc, err := e.branch(fr, in.BrDepth)
		if err != nil {
			return nil, 0, err
		}
		return nil, pc, nil
	case ir.OpBrIf:
		cond, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		if cond.I32() == 0 {
			return nil, fr.pc + 1, nil
		}
		pc, err := e.branch(fr, in.BrDepth)
		if err != nil {
			return nil, 0, err
		}
		return nil, pc, nil
	case ir.OpBrTable:
		idxVal, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		idx := idxVal.U32()
		depth := in.BrTable[len(in.BrTable)-1]
		if int(idx) < len(in.BrTable)-1 {
			depth = in.BrTable[idx]
		}
		pc, err := e.branch(fr, depth)
		if err != nil {
			return nil, 0, err
		}
		return nil, pc, nil

	case ir.OpReturn:
		out, done := e.popFrame(fr)
		if done {
			return &out, 0, nil
		}
		return nil, 0, nil

	case ir.OpCall:
		return e.execCall(inst, fr, in.Index)
	case ir.OpCallIndirect:
		return e.execCallIndirect(inst, fr, in)

	case ir.OpDrop:
		_, err := e.values.Pop()
		return nil, fr.pc + 1, err
	case ir.OpSelect:
		cond, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		b, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		a, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		if cond.I32() != 0 {
			return nil, fr.pc + 1, e.values.Push(a)
		}
		return nil, fr.pc + 1, e.values.Push(b)

	case ir.OpLocalGet:
		if int(in.Index) >= len(fr.locals) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		return nil, fr.pc + 1, e.values.Push(fr.locals[in.Index])
	case ir.OpLocalSet:
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		if int(in.Index) >= len(fr.locals) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		fr.locals[in.Index] = v
		return nil, fr.pc + 1, nil
	case ir.OpLocalTee:
		v, err := e.values.Peek(0)
		if err != nil {
			return nil, 0, err
		}
		if int(in.Index) >= len(fr.locals) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		fr.locals[in.Index] = v
		return nil, fr.pc + 1, nil

	case ir.OpGlobalGet:
		if int(in.Index) >= len(inst.Globals) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		return nil, fr.pc + 1, e.values.Push(inst.Globals[in.Index].Get())
	case ir.OpGlobalSet:
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		if int(in.Index) >= len(inst.Globals) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		return nil, fr.pc + 1, inst.Globals[in.Index].Set(v)

	case ir.OpI32Const:
		return nil, fr.pc + 1, e.values.Push(api.I32(in.ConstI32))
	case ir.OpI64Const:
		return nil, fr.pc + 1, e.values.Push(api.I64(in.ConstI64))
	case ir.OpF32Const:
		return nil, fr.pc + 1, e.values.Push(api.FromRaw(api.ValueTypeF32, uint64(in.ConstF32), 0))
	case ir.OpF64Const:
		return nil, fr.pc + 1, e.values.Push(api.FromRaw(api.ValueTypeF64, in.ConstF64, 0))

	case ir.OpMemorySize:
		mem := inst.Memories[0]
		return nil, fr.pc + 1, e.values.Push(api.U32(mem.PageSize()))
	case ir.OpMemoryGrow:
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		mem := inst.Memories[0]
		prev, ok := mem.Grow(v.U32())
		if !ok {
			return nil, fr.pc + 1, e.values.Push(api.I32(-1))
		}
		return nil, fr.pc + 1, e.values.Push(api.U32(prev))

	case ir.OpMemoryCopy:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		src, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		dst, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, inst.Memories[0].Copy(dst.U32(), src.U32(), n.U32())
	case ir.OpMemoryFill:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		dst, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, inst.Memories[0].Fill(dst.U32(), byte(v.U32()), n.U32())
	case ir.OpMemoryInit:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		src, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		dst, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		if int(in.SegIndex) >= len(inst.DataInstances) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		return nil, fr.pc + 1, inst.Memories[0].Init(dst.U32(), inst.DataInstances[in.SegIndex], src.U32(), n.U32())
	case ir.OpDataDrop:
		if int(in.SegIndex) >= len(inst.DataInstances) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		inst.DataInstances[in.SegIndex].Drop()
		return nil, fr.pc + 1, nil

	case ir.OpTableGet:
		idx, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		v, err := inst.Tables[in.Index].Get(idx.U32())
		if err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, e.values.Push(v)
	case ir.OpTableSet:
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		idx, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, inst.Tables[in.Index].Set(idx.U32(), v)
	case ir.OpTableSize:
		return nil, fr.pc + 1, e.values.Push(api.U32(inst.Tables[in.Index].Size()))
	case ir.OpTableGrow:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		init, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		prev, ok := inst.Tables[in.Index].Grow(n.U32(), init)
		if !ok {
			return nil, fr.pc + 1, e.values.Push(api.I32(-1))
		}
		return nil, fr.pc + 1, e.values.Push(api.U32(prev))
	case ir.OpTableFill:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		dst, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, inst.Tables[in.Index].Fill(dst.U32(), v, n.U32())
	case ir.OpTableCopy:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		src, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		dst, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		return nil, fr.pc + 1, inst.Tables[in.TableIndex].Copy(dst.U32(), inst.Tables[in.Index], src.U32(), n.U32())
	case ir.OpTableInit:
		n, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		src, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		dst, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		if int(in.SegIndex) >= len(inst.ElementInstances) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		return nil, fr.pc + 1, inst.Tables[in.TableIndex].Init(dst.U32(), inst.ElementInstances[in.SegIndex], src.U32(), n.U32())
	case ir.OpElemDrop:
		if int(in.SegIndex) >= len(inst.ElementInstances) {
			return nil, 0, coreerr.ErrIndexOutOfRange
		}
		inst.ElementInstances[in.SegIndex].Drop()
		return nil, fr.pc + 1, nil

	default:
		if isMemLoadOp(in.Op) || isMemStoreOp(in.Op) {
			err := e.memAccess(inst, in)
			return nil, fr.pc + 1, err
		}
		if isAtomicOp(in.Op) {
			err := e.atomicAccess(inst, in)
			return nil, fr.pc + 1, err
		}
		if isNumericOp(in.Op) {
			err := e.numeric(in.Op)
			return nil, fr.pc + 1, err
		}
		return nil, 0, coreerr.ErrUnsupportedFeature
	}
}

func isAtomicOp(op ir.Opcode) bool {
	return ir.IsAtomicOp(op)
}

func isMemLoadOp(op ir.Opcode) bool {
	switch op {
	case ir.OpI32Load, ir.OpI64Load, ir.OpF32Load, ir.OpF64Load,
		ir.OpI32Load8S, ir.OpI32Load8U, ir.OpI32Load16S, ir.OpI32Load16U,
		ir.OpI64Load8S, ir.OpI64Load8U, ir.OpI64Load16S, ir.OpI64Load16U, ir.OpI64Load32S, ir.OpI64Load32U:
		return true
	}
	return false
}

func isMemStoreOp(op ir.Opcode) bool {
	switch op {
	case ir.OpI32Store, ir.OpI64Store, ir.OpF32Store, ir.OpF64Store,
		ir.OpI32Store8, ir.OpI32Store16, ir.OpI64Store8, ir.OpI64Store16, ir.OpI64Store32:
		return true
	}
	return false
}

func blockArity(inst *wasm.Instance, bt ir.BlockType) (result, param int) {
	if bt.TypeIndex >= 0 {
		if int(bt.TypeIndex) < len(inst.Module.Types) {
			ft := inst.Module.Types[bt.TypeIndex]
			return len(ft.Results), len(ft.Params)
		}
		return 0, 0
	}
	if bt.HasValueType {
		return 1, 0
	}
	return 0, 0
}

func (e *Engine) carryBranchValues(label Label, arity int) error {
	vals := make([]api.Value, arity)
	for i := arity - 1; i >= 0; i-- {
		v, err := e.values.Pop()
		if err != nil {
			return err
		}
		vals[i] = v
	}
	if err := e.values.Truncate(label.StackHeight); err != nil {
		return err
	}
	for _, v := range vals {
		if err := e.values.Push(v); err != nil {
			return err
		}
	}
	return nil
}

// branch implements br to the label `depth` frames up the current frame's
// label stack (§3 "Label", §4.4 dispatch step 5 "br/br_if/br_table").
func (e *Engine) branch(fr *frame, depth uint32) (int, error) {
	var target Label
	for i := uint32(0); i <= depth; i++ {
		l, err := fr.labels.Pop()
		if err != nil {
			return 0, err
		}
		target = l
	}
	arity := target.ResultArity
	if target.IsLoop {
		arity = target.ParamArity
	}
	if err := e.carryBranchValues(target, arity); err != nil {
		return 0, err
	}
	if target.IsLoop {
		if err := fr.labels.Push(target); err != nil {
			return 0, err
		}
	}
	return target.ContinuationPC, nil
}

func (e *Engine) execCall(inst *wasm.Instance, fr *frame, funcIdx uint32) (*Outcome, int, error) {
	if int(funcIdx) >= len(inst.Functions) {
		return nil, 0, coreerr.ErrIndexOutOfRange
	}
	return e.dispatchCall(inst, fr, inst.Functions[funcIdx])
}

func (e *Engine) execCallIndirect(inst *wasm.Instance, fr *frame, in ir.Instruction) (*Outcome, int, error) {
	idxVal, err := e.values.Pop()
	if err != nil {
		return nil, 0, err
	}
	if int(in.TableIndex) >= len(inst.Tables) {
		return nil, 0, coreerr.ErrIndexOutOfRange
	}
	ref, err := inst.Tables[in.TableIndex].Get(idxVal.U32())
	if err != nil {
		return nil, 0, coreerr.ErrOutOfBounds
	}
	if ref.IsNullRef() {
		return nil, 0, coreerr.ErrUninitializedElement
	}
	funcIdx := ref.RefIndex()
	if int(funcIdx) >= len(inst.Functions) {
		return nil, 0, coreerr.ErrIndexOutOfRange
	}
	callee := inst.Functions[funcIdx]
	if int(in.TypeIndex) >= len(inst.Module.Types) {
		return nil, 0, coreerr.ErrIndexOutOfRange
	}
	want := &inst.Module.Types[in.TypeIndex]
	if !callee.Type.Equal(want) {
		return nil, 0, coreerr.ErrIndirectCallMismatch
	}
	if e.cfg.CFIEnabled && callee.TypeIndex != in.TypeIndex {
		return nil, 0, coreerr.ErrCfiViolation
	}
	return e.dispatchCall(inst, fr, callee)
}

func (e *Engine) dispatchCall(inst *wasm.Instance, fr *frame, callee *wasm.FuncInstance) (*Outcome, int, error) {
	args := make([]api.Value, len(callee.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		v, err := e.values.Pop()
		if err != nil {
			return nil, 0, err
		}
		args[i] = v
	}
	if callee.IsHostFunc {
		fr.pc++ // resume just past the call instruction once results arrive
		e.pendingHost = &HostCallRequest{Instance: inst, ImportID: callee.HostImportID, Args: args}
		e.snapshot = newUUID()
		out := Outcome{
			Kind:     OutcomeHostCall,
			HostCall: *e.pendingHost,
			Token: ResumeToken{
				FrameDepth: len(e.frames),
				ValueDepth: e.values.Len(),
				SnapshotID: e.snapshot,
				forHost:    true,
			},
		}
		return &out, 0, nil
	}
	if e.cfg.MaxCallDepth > 0 && len(e.frames) >= e.cfg.MaxCallDepth {
		return nil, 0, coreerr.ErrStackOverflow
	}
	newFrame, err := e.pushCallFrame(inst, callee, args)
	if err != nil {
		return nil, 0, err
	}
	fr.pc++
	e.frames = append(e.frames, newFrame)
	return nil, fr.pc, nil
}
