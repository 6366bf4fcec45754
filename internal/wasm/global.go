package wasm

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
)

// Global is the runtime entity backing §3 "Global": a single typed cell,
// immutable or mutable as declared.
type Global struct {
	Type    api.ValueType
	Mutable bool
	value   api.Value
}

func NewGlobal(t api.ValueType, mutable bool, init api.Value) *Global {
	return &Global{Type: t, Mutable: mutable, value: init}
}

func (g *Global) Get() api.Value { return g.value }

// Set implements global.set, enforcing the mutability check (§4.3).
func (g *Global) Set(v api.Value) error {
	if !g.Mutable {
		return coreerr.New(coreerr.Validation, coreerr.CodeTypeMismatch, "global.set on immutable global")
	}
	g.value = v
	return nil
}
