package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func instantiateMemoryModule(t *testing.T, ctx context.Context, rt wazero.Runtime) api.Module {
	t.Helper()
	compiled, err := rt.CompileModule(ctx, miniModule(0, true))
	require.NoError(t, err)
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	require.NoError(t, err)
	return mod
}

func TestHostLogAppendsFormattedEntry(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	msg := []byte("hello plugin")
	require.True(t, mod.Memory().Write(0, msg))

	result := hostLog(callCtx, mod, 1, 0, int32(len(msg)))
	assert.Equal(t, int32(0), result)
	require.Len(t, inv.logs, 1)
	assert.Contains(t, inv.logs[0], "INFO")
	assert.Contains(t, inv.logs[0], "hello plugin")
}

func TestHostLogRejectsOutOfBoundsRead(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	result := hostLog(callCtx, mod, 1, 0, 1<<30)
	assert.Equal(t, int32(-1), result)
}

func TestHostSetHeaderThenGetHeaderRoundTrips(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	name := []byte("X-Test")
	value := []byte("value-1")
	require.True(t, mod.Memory().Write(0, name))
	require.True(t, mod.Memory().Write(100, value))

	setResult := hostSetHeader(callCtx, mod, 0, int32(len(name)), 100, int32(len(value)))
	assert.Equal(t, int32(0), setResult)
	assert.Equal(t, "value-1", inv.context.Headers["X-Test"])

	getResult := hostGetHeader(callCtx, mod, 0, int32(len(name)), 200, 64)
	assert.Equal(t, int32(len(value)), getResult)

	written, ok := mod.Memory().Read(200, uint32(len(value)))
	require.True(t, ok)
	assert.Equal(t, "value-1", string(written))
}

func TestHostGetHeaderReturnsMinusOneWhenAbsent(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	name := []byte("Missing")
	require.True(t, mod.Memory().Write(0, name))

	result := hostGetHeader(callCtx, mod, 0, int32(len(name)), 50, 64)
	assert.Equal(t, int32(-1), result)
}

func TestHostGetHeaderReturnsNeededLengthWhenBufferTooSmall(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	longValue := "this value is longer than the buffer"
	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	inv.context.Headers["X-Big"] = longValue
	callCtx := withInvocation(ctx, inv)

	name := []byte("X-Big")
	require.True(t, mod.Memory().Write(0, name))

	result := hostGetHeader(callCtx, mod, 0, int32(len(name)), 50, 4)
	assert.Equal(t, int32(len(longValue)), result)
}

func TestHostGetMethodReturnsConfiguredMethod(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	method := "POST"
	inv := &invocation{
		pluginName:   "test",
		context:      &Context{Method: &method, Headers: map[string]string{}, Metadata: map[string]string{}},
		maxHostCalls: 10,
	}
	callCtx := withInvocation(ctx, inv)

	result := hostGetMethod(callCtx, mod, 0, 16)
	require.Equal(t, int32(len(method)), result)

	out, ok := mod.Memory().Read(0, uint32(len(method)))
	require.True(t, ok)
	assert.Equal(t, method, string(out))
}

func TestHostGetMethodReturnsMinusOneWhenUnset(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	assert.Equal(t, int32(-1), hostGetMethod(callCtx, mod, 0, 16))
}

func TestHostGetMemorySizeReturnsPageCount(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	assert.Equal(t, int32(1), hostGetMemorySize(callCtx, mod))
}

func TestHostAbortLogsMessage(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 10}
	callCtx := withInvocation(ctx, inv)

	msg := []byte("panic!")
	require.True(t, mod.Memory().Write(0, msg))

	hostAbort(callCtx, mod, 0, int32(len(msg)))
	require.Len(t, inv.logs, 1)
	assert.Contains(t, inv.logs[0], "ABORT")
	assert.Contains(t, inv.logs[0], "panic!")
}

func TestHostCallBudgetExhaustionBlocksFurtherCalls(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	inv := &invocation{pluginName: "test", context: NewContext(), maxHostCalls: 1}
	callCtx := withInvocation(ctx, inv)

	assert.Equal(t, int32(1), hostGetMemorySize(callCtx, mod))
	assert.Equal(t, int32(0), hostGetMemorySize(callCtx, mod))
}

func TestHostFunctionsWithoutInvocationReturnError(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod := instantiateMemoryModule(t, ctx, rt)
	defer mod.Close(ctx)

	assert.Equal(t, int32(-1), hostLog(ctx, mod, 1, 0, 0))
	assert.Equal(t, int32(0), hostGetMemorySize(ctx, mod))
}
