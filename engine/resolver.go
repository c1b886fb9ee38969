package engine

import (
	"sort"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/chainvm/wasm"
)

// HostFunc is one Go function exported by a host module.
type HostFunc struct {
	Fn   api.GoModuleFunc
	Type wasm.FuncType
}

// Resolver maps the function imports of one host module to Go functions.
// It decides which capabilities a contract can reach.
type Resolver struct {
	funcs  map[string]HostFunc
	module string
}

func NewResolver(module string) *Resolver {
	return &Resolver{module: module, funcs: make(map[string]HostFunc)}
}

// Module is the import module name the resolver serves.
func (r *Resolver) Module() string { return r.module }

// Define binds name to fn. A later definition replaces an earlier one.
func (r *Resolver) Define(name string, ft wasm.FuncType, fn api.GoModuleFunc) *Resolver {
	r.funcs[name] = HostFunc{Fn: fn, Type: ft}
	return r
}

// Lookup implements wasm.ImportLookup.
func (r *Resolver) Lookup(module, name string) (wasm.FuncType, bool) {
	if module != r.module {
		return wasm.FuncType{}, false
	}
	hf, ok := r.funcs[name]
	return hf.Type, ok
}

// Names returns the defined function names in sorted order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func valueTypes(vs []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(vs))
	for i, v := range vs {
		out[i] = api.ValueType(v)
	}
	return out
}
