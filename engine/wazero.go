package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/wasm"
	"github.com/wippyai/chainvm/wasm/metering"
)

const (
	// DefaultMemoryPages is 16MiB of linear memory.
	DefaultMemoryPages  = 256
	DefaultCacheEntries = 1024
	DefaultCacheTTL     = 10 * time.Minute
)

// ErrHalt stops the running invocation without an error. Host functions
// panic with it (see Halt) to end the guest early.
var ErrHalt = stderrors.New("invocation halted")

// Halt terminates the current invocation successfully. It must only be
// called from inside a host function.
func Halt() { panic(ErrHalt) }

// Config holds configuration for engine creation
type Config struct {
	// Imports is the host surface enforced at validation. Nil selects
	// abi.Lookup.
	Imports wasm.ImportLookup
	Logger  *zap.Logger
	// HostModule names the module of the meter import. Empty selects
	// abi.Module.
	HostModule string
	// Entry is the export Invoke runs. Empty selects abi.Entry.
	Entry string
	Costs metering.CostTable
	// MemoryLimitPages caps linear memory per instance, in 64KiB pages.
	MemoryLimitPages uint32
	// CacheEntries bounds the compiled modules kept in memory.
	CacheEntries int
	// CacheTTL is how long instrumented code stays in the byte cache.
	CacheTTL time.Duration
}

// Engine validates, instruments, compiles and instantiates contract code
// on a shared wazero runtime. It is safe for concurrent use.
type Engine struct {
	runtime   wazero.Runtime
	compCache wazero.CompilationCache
	code      *bigcache.BigCache
	log       *zap.Logger
	modules   map[common.H256]*Module
	hosts     map[string]*Resolver
	policy    wasm.Policy
	meter     metering.Options
	order     []common.H256
	maxCached int
	hits      atomic.Uint64
	misses    atomic.Uint64
	mu        sync.Mutex
}

// New creates an engine. cfg may be nil.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	pages := cfg.MemoryLimitPages
	if pages == 0 {
		pages = DefaultMemoryPages
	}
	entries := cfg.CacheEntries
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	imports := cfg.Imports
	if imports == nil {
		imports = abi.Lookup
	}
	entry := cfg.Entry
	if entry == "" {
		entry = abi.Entry
	}
	hostModule := cfg.HostModule
	if hostModule == "" {
		hostModule = abi.Module
	}
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	bcfg := bigcache.DefaultConfig(ttl)
	bcfg.Shards = 64
	bcfg.MaxEntriesInWindow = entries
	bcfg.MaxEntrySize = 64 << 10
	bcfg.CleanWindow = ttl / 2
	bcfg.Verbose = false
	code, err := bigcache.New(ctx, bcfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInternal, err, "create code cache")
	}

	compCache := wazero.NewCompilationCache()
	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true).
		WithCompilationCache(compCache)

	return &Engine{
		runtime:   wazero.NewRuntimeWithConfig(ctx, rcfg),
		compCache: compCache,
		code:      code,
		log:       log,
		modules:   make(map[common.H256]*Module),
		hosts:     make(map[string]*Resolver),
		policy:    wasm.Policy{Imports: imports, Entry: entry, MaxMemoryPages: pages},
		meter:     metering.Options{HostModule: hostModule, Costs: cfg.Costs},
		maxCached: entries,
	}, nil
}

// Close releases the runtime and every module compiled on it.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if cerr := e.compCache.Close(ctx); err == nil {
		err = cerr
	}
	if cerr := e.code.Close(); err == nil {
		err = cerr
	}
	return err
}

// Validate checks code against the engine's host surface and limits.
func (e *Engine) Validate(code []byte) (*wasm.Module, error) {
	return wasm.Validate(code, e.policy)
}

// Stats reports compile cache activity.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Modules int
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	n := len(e.modules)
	e.mu.Unlock()
	return Stats{Hits: e.hits.Load(), Misses: e.misses.Load(), Modules: n}
}

// Module is validated, instrumented and compiled contract code. Modules
// are shared between transactions and never mutated.
type Module struct {
	compiled wazero.CompiledModule
	imports  [][2]string
	refs     int
	hash     common.H256
	evicted  bool
	closed   bool
}

// Hash is the sha256 of the original code.
func (m *Module) Hash() common.H256 { return m.hash }

// Compile validates, instruments and compiles code. Results are cached by
// code hash, so compiling the same code twice is cheap.
func (e *Engine) Compile(ctx context.Context, code []byte) (*Module, error) {
	return e.compile(ctx, code, false)
}

func (e *Engine) compile(ctx context.Context, code []byte, acquire bool) (*Module, error) {
	hash := common.H256(sha256.Sum256(code))
	e.mu.Lock()
	if m, ok := e.modules[hash]; ok {
		if acquire {
			m.refs++
		}
		e.mu.Unlock()
		e.hits.Add(1)
		return m, nil
	}
	e.mu.Unlock()
	e.misses.Add(1)

	bin, err := e.instrumented(hash, code)
	if err != nil {
		return nil, err
	}
	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Compile("wazero compile", err)
	}
	m := &Module{hash: hash, compiled: compiled}
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		m.imports = append(m.imports, [2]string{mod, name})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.modules[hash]; ok {
		_ = compiled.Close(ctx)
		m = prev
	} else {
		e.modules[hash] = m
		e.order = append(e.order, hash)
		e.evictLocked(ctx)
	}
	if acquire {
		m.refs++
	}
	debugf("compiled %x: %d bytes instrumented", hash[:4], len(bin))
	return m, nil
}

// instrumented returns the metered binary for code, from the byte cache
// when possible.
func (e *Engine) instrumented(hash common.H256, code []byte) ([]byte, error) {
	key := hex.EncodeToString(hash[:])
	bin, err := e.code.Get(key)
	if err == nil {
		return bin, nil
	}
	if !stderrors.Is(err, bigcache.ErrEntryNotFound) {
		e.log.Warn("code cache read failed", zap.String("hash", key), zap.Error(err))
	}

	parsed, err := e.Validate(code)
	if err != nil {
		return nil, err
	}
	metered, err := metering.Instrument(parsed, e.meter)
	if err != nil {
		return nil, err
	}
	bin = metered.Encode()
	if err := e.code.Set(key, bin); err != nil {
		e.log.Warn("code cache write failed", zap.String("hash", key), zap.Error(err))
	}
	return bin, nil
}

// evictLocked drops the oldest modules beyond the cache bound. A module
// still being instantiated is closed when its last user releases it.
func (e *Engine) evictLocked(ctx context.Context) {
	for len(e.order) > e.maxCached {
		hash := e.order[0]
		e.order = e.order[1:]
		m := e.modules[hash]
		delete(e.modules, hash)
		m.evicted = true
		if m.refs == 0 {
			e.closeModuleLocked(ctx, m)
		}
	}
}

func (e *Engine) closeModuleLocked(ctx context.Context, m *Module) {
	if m.closed {
		return
	}
	m.closed = true
	if err := m.compiled.Close(ctx); err != nil {
		e.log.Warn("close compiled module", zap.Error(err))
	}
}

func (e *Engine) acquire(m *Module) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.closed {
		return false
	}
	m.refs++
	return true
}

func (e *Engine) release(ctx context.Context, m *Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m.refs--
	if m.refs == 0 && m.evicted {
		e.closeModuleLocked(ctx, m)
	}
}

// Link instantiates the host module served by r. Each module name can be
// bound to one resolver per engine; functions defined on r after the first
// Link are not visible to guests.
func (e *Engine) Link(ctx context.Context, r *Resolver) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.hosts[r.Module()]; ok {
		if prev == r {
			return nil
		}
		return errors.Registration(fmt.Sprintf("host module %q is bound to another resolver", r.Module()), nil)
	}

	b := e.runtime.NewHostModuleBuilder(r.Module())
	for _, name := range r.Names() {
		hf := r.funcs[name]
		b.NewFunctionBuilder().
			WithGoModuleFunction(hf.Fn, valueTypes(hf.Type.Params), valueTypes(hf.Type.Results)).
			WithName(name).
			Export(name)
	}
	if _, err := b.Instantiate(ctx); err != nil {
		return errors.Registration("instantiate host module "+r.Module(), err)
	}
	e.hosts[r.Module()] = r
	Logger().Debug("host module linked", zap.String("module", r.Module()), zap.Int("funcs", len(r.funcs)))
	return nil
}

// Instantiate binds m to r. It fails with a missing import error listing
// every import r does not provide.
func (e *Engine) Instantiate(ctx context.Context, m *Module, r *Resolver) (*Instance, error) {
	if !e.acquire(m) {
		return nil, errors.Instantiation("module was evicted from the cache", nil)
	}
	defer e.release(ctx, m)
	return e.instantiate(ctx, m, r)
}

// Load compiles code and instantiates it against r.
func (e *Engine) Load(ctx context.Context, code []byte, r *Resolver) (*Instance, error) {
	m, err := e.compile(ctx, code, true)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, m)
	return e.instantiate(ctx, m, r)
}

func (e *Engine) instantiate(ctx context.Context, m *Module, r *Resolver) (*Instance, error) {
	var missing []string
	for _, imp := range m.imports {
		if _, ok := r.Lookup(imp[0], imp[1]); !ok {
			missing = append(missing, imp[0]+"#"+imp[1])
		}
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.PhaseLink, errors.KindMissingImport).
			Cause(errors.NewMissingImportsError(missing)).
			Detail("%d unresolved imports", len(missing)).
			Build()
	}
	if err := e.Link(ctx, r); err != nil {
		return nil, err
	}

	// anonymous so instances of the same contract can coexist
	cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		// a start function can run out of gas like any other code
		if e, ok := errors.As(err); ok {
			return nil, e
		}
		return nil, errors.Instantiation("instantiate module", err)
	}
	entry := mod.ExportedFunction(e.policy.Entry)
	if entry == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotFound(errors.PhaseLink, "export "+e.policy.Entry)
	}
	return &Instance{mod: mod, entry: entry, hash: m.hash}, nil
}

// Instance is a module bound to a resolver. It serves one invocation and
// must be closed afterwards.
type Instance struct {
	mod   api.Module
	entry api.Function
	hash  common.H256
}

// Invoke runs the entry function. Host functions read their per-call
// state from ctx. A Halt from a host function is a normal return.
func (i *Instance) Invoke(ctx context.Context) error {
	_, err := i.entry.Call(ctx)
	return classify(ctx, err)
}

func (i *Instance) Memory() api.Memory { return i.mod.Memory() }
func (i *Instance) Hash() common.H256  { return i.hash }

func (i *Instance) Close(ctx context.Context) error {
	if i.mod == nil {
		return nil
	}
	err := i.mod.Close(ctx)
	i.mod = nil
	i.entry = nil
	return err
}

// classify turns a wazero call error into the runtime error taxonomy.
// Errors panicked by host functions come back wrapped and are unwrapped
// here; anything else the guest did wrong is a trap.
func classify(ctx context.Context, err error) error {
	if err == nil || stderrors.Is(err, ErrHalt) {
		return nil
	}
	if e, ok := errors.As(err); ok {
		return e
	}
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Wrap(errors.PhaseRuntime, errors.KindInternal, cerr, "execution cancelled")
		}
		return errors.Trap(fmt.Sprintf("module exited with code %d", exit.ExitCode()), err)
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return errors.Trap(msg, err)
}
