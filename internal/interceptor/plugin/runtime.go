package plugin

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/int3rceptor/interceptor/errs"
)

// maxHostCallsPerInvocation approximates the reference's 1e6-instruction
// fuel budget: wazero exposes no instruction counter, so the budget is
// charged per host call instead.
const maxHostCallsPerInvocation = 1_000_000

// Runtime is one loaded, compiled plugin sharing the host ABI exposed by
// its owning Host. Each hook invocation gets a fresh module instance;
// nothing here is safe to call from more than one goroutine concurrently
// against the same invocation, though separate invocations may overlap.
type Runtime struct {
	config   Config
	compiled wazero.CompiledModule
	runtime  wazero.Runtime
	nextInst uint64
}

func newRuntime(ctx context.Context, rt wazero.Runtime, config Config, wasmBytes []byte) (*Runtime, error) {
	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("compiling plugin %q", config.Name), err)
	}
	return &Runtime{config: config, compiled: compiled, runtime: rt}, nil
}

func (r *Runtime) instantiate(ctx context.Context) (api.Module, error) {
	n := atomic.AddUint64(&r.nextInst, 1)
	name := fmt.Sprintf("%s#%d", r.config.Name, n)
	return r.runtime.InstantiateModule(ctx, r.compiled, wazero.NewModuleConfig().WithName(name))
}

// Initialize runs the plugin's optional plugin_init export, if present. A
// non-zero return value means initialization failed and the plugin must
// not be registered.
func (r *Runtime) Initialize(ctx context.Context) error {
	inv := &invocation{pluginName: r.config.Name, context: NewContext(), maxHostCalls: maxHostCallsPerInvocation}
	callCtx, cancel := context.WithTimeout(withInvocation(ctx, inv), r.executionBudget())
	defer cancel()

	mod, err := r.instantiate(callCtx)
	if err != nil {
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("instantiating plugin %q", r.config.Name), err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction("plugin_init")
	if fn == nil {
		return nil
	}
	results, err := fn.Call(callCtx)
	if err != nil {
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("plugin %q initialization trapped", r.config.Name), err)
	}
	if len(results) > 0 && int32(results[0]) != 0 {
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("plugin %q initialization returned code %d", r.config.Name, int32(results[0])), nil)
	}
	return nil
}

// CallHook invokes hook's export if the plugin has one. A missing export
// is not an error: the plugin simply doesn't implement that hook, and the
// input context passes through unchanged.
func (r *Runtime) CallHook(ctx context.Context, hook Hook, hookCtx *Context) (Result, error) {
	snapshot := hookCtx.Clone()
	inv := &invocation{pluginName: r.config.Name, context: hookCtx.Clone(), maxHostCalls: maxHostCallsPerInvocation}
	callCtx, cancel := context.WithTimeout(withInvocation(ctx, inv), r.executionBudget())
	defer cancel()

	mod, err := r.instantiate(callCtx)
	if err != nil {
		return Result{}, errs.New(errs.KindConfigInvalid, fmt.Sprintf("instantiating plugin %q", r.config.Name), err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(string(hook))
	if fn == nil {
		return unmodified(hookCtx), nil
	}

	if _, err := fn.Call(callCtx); err != nil {
		return Result{}, errs.New(errs.KindConfigInvalid, fmt.Sprintf("plugin %q hook %q trapped or exceeded its budget", r.config.Name, hook), err)
	}

	inv.mu.Lock()
	final := inv.context
	inv.mu.Unlock()

	if contextsEqual(snapshot, final) {
		return unmodified(hookCtx), nil
	}
	return Result{Modified: true, Context: final, ShouldContinue: true}, nil
}

func (r *Runtime) executionBudget() time.Duration {
	if r.config.MaxExecutionTime <= 0 {
		return DefaultMaxExecutionTime
	}
	if r.config.MaxExecutionTime > HardTimeout {
		return HardTimeout
	}
	return r.config.MaxExecutionTime
}

// Name returns the plugin's configured name.
func (r *Runtime) Name() string { return r.config.Name }

// Enabled reports whether the plugin's config marks it enabled.
func (r *Runtime) Enabled() bool { return r.config.Enabled }

// Close releases the compiled module.
func (r *Runtime) Close(ctx context.Context) error { return r.compiled.Close(ctx) }
