package engine

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	guestbridge "github.com/hostvm/guest-bridge"
	"github.com/hostvm/guest-bridge/errors"
	"github.com/hostvm/guest-bridge/stack"
)

// Runtime wraps a wazero runtime. It is safe to share between goroutines;
// the Guest instances it loads are not.
type Runtime struct {
	runtime wazero.Runtime
	log     *zap.Logger
}

// Option configures a Runtime.
type Option func(*config)

type config struct {
	log              *zap.Logger
	cache            wazero.CompilationCache
	memoryLimitPages uint32
}

// WithLogger sets the runtime's logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithMemoryLimitPages caps guest linear memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *config) { c.memoryLimitPages = pages }
}

// WithCompilationCache shares compiled-module artifacts across runtimes.
func WithCompilationCache(cache wazero.CompilationCache) Option {
	return func(c *config) { c.cache = cache }
}

// New creates a wazero-backed runtime with WASI preview 1 available to
// guests that import it.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := config{log: Logger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	rcfg := wazero.NewRuntimeConfig()
	if cfg.memoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.memoryLimitPages)
	}
	if cfg.cache != nil {
		rcfg = rcfg.WithCompilationCache(cfg.cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindForeign, err, "instantiate WASI")
	}

	return &Runtime{runtime: rt, log: cfg.log}, nil
}

// Close releases the runtime and every guest loaded from it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Load compiles and instantiates a guest module, then discovers its linear
// memory and allocator exports. A guest without a memory or an allocator
// export cannot exchange values and is rejected at load time.
func (r *Runtime) Load(ctx context.Context, wasmBytes []byte) (*Guest, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindForeign, err, "compile module")
	}

	instance, err := r.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize", "_start"))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindForeign, err, "instantiate module")
	}

	g := &Guest{
		instance: instance,
		log:      r.log,
	}

	mem := instance.Memory()
	if mem == nil {
		instance.Close(ctx)
		return nil, errors.InvalidInput(errors.PhaseLoad, "guest exports no memory")
	}
	g.mem = &wazeroMemory{mem: mem}

	defs := exportArities(instance)
	allocName, allocParams, ok := pickExport(defs, allocNames)
	if !ok {
		instance.Close(ctx)
		return nil, errors.InvalidInput(errors.PhaseLoad, "guest exports no allocator")
	}
	var freeFn api.Function
	freeParams := 0
	if freeName, n, ok := pickExport(defs, freeNames); ok {
		freeFn = instance.ExportedFunction(freeName)
		freeParams = n
	} else {
		r.log.Warn("guest exports no free function, guest memory will not be reclaimed")
	}

	g.alloc = newGuestAllocator(instance.ExportedFunction(allocName), freeFn, allocParams, freeParams, r.log)

	r.log.Debug("guest loaded",
		zap.String("allocator", allocName),
		zap.Int("alloc_params", allocParams),
		zap.Uint32("memory_bytes", g.mem.Size()))

	return g, nil
}

// exportArities maps the guest's exported function names to their parameter
// counts.
func exportArities(instance api.Module) map[string]int {
	defs := instance.ExportedFunctionDefinitions()
	out := make(map[string]int, len(defs))
	for name, def := range defs {
		out[name] = len(def.ParamTypes())
	}
	return out
}

// Guest is a loaded, instantiated module ready to exchange values. It is not
// safe for concurrent use; give each goroutine its own Guest.
type Guest struct {
	instance api.Module
	mem      *wazeroMemory
	alloc    *guestAllocator
	log      *zap.Logger
}

// Memory returns the guest's linear memory.
func (g *Guest) Memory() guestbridge.Memory { return g.mem }

// Allocator returns the guest's exported allocator.
func (g *Guest) Allocator() guestbridge.Allocator { return g.alloc }

// NewStack returns a fresh marshalling stack bound to this guest's memory
// and allocator.
func (g *Guest) NewStack() *stack.Stack {
	return stack.New(g.mem, g.alloc)
}

// Exports returns the guest's exported function names, sorted, with the
// allocator family filtered out.
func (g *Guest) Exports() []string {
	reserved := make(map[string]bool, len(allocNames)+len(freeNames))
	for _, n := range allocNames {
		reserved[n] = true
	}
	for _, n := range freeNames {
		reserved[n] = true
	}

	var names []string
	for name := range g.instance.ExportedFunctionDefinitions() {
		if reserved[name] || name == "_initialize" || name == "_start" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes an exported function using the stack calling convention. The
// stack's slots are lowered into a guest array and passed as (ptr, count);
// the export returns its own (ptr, count), whose slots are lifted back onto
// the same stack. The host frees the argument array after the call returns
// and the result array after lifting.
func (g *Guest) Call(ctx context.Context, name string, st *stack.Stack) error {
	fn := g.instance.ExportedFunction(name)
	if fn == nil {
		return errors.NotFound(errors.PhaseRuntime, "export", name)
	}

	g.alloc.setContext(ctx)
	defer g.alloc.setContext(nil)

	argPtr, argCount, err := stack.Lower(st)
	if err != nil {
		return err
	}

	results, callErr := fn.Call(ctx, uint64(argPtr), uint64(argCount))
	if argPtr != 0 {
		g.alloc.Free(argPtr, argCount*stack.SlotSize, stack.SlotAlign)
	}
	if callErr != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindForeign, callErr, "call "+name)
	}

	if len(results) < 2 {
		return nil
	}
	return stack.Lift(st, uint32(results[0]), uint32(results[1]))
}

// Close releases the guest instance. Buffers and stacks bound to it are
// invalid afterwards.
func (g *Guest) Close(ctx context.Context) error {
	if g.instance == nil {
		return nil
	}
	err := g.instance.Close(ctx)
	g.instance = nil
	return err
}
