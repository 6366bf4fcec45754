package wasm

import "github.com/pulseengine/wrt-sub004/api"

// FuncInstance is the runtime entity backing §3 "FuncInstance": a resolved,
// callable function, either defined by the module (Body non-nil) or
// supplied by the host (IsHostFunc true, resolved via the host bridge).
type FuncInstance struct {
	Type         *FunctionType
	ModuleName   string
	Name         string
	Body         []byte          // non-nil for module-defined functions
	LocalTypes   []api.ValueType // local variable layout, beyond declared params
	TypeIndex    Index
	IsHostFunc   bool
	HostImportID uint64 // meaningful when IsHostFunc
}
