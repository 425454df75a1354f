package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// logLevelNames maps a host_log level argument to its display name.
var logLevelNames = map[int32]string{0: "DEBUG", 1: "INFO", 2: "WARN", 3: "ERROR"}

// invocation is the per-call state the host functions below read and
// write. It travels through context.Context rather than closure capture
// so a single compiled "env" host module can serve every invocation of
// every loaded plugin.
type invocation struct {
	mu           sync.Mutex
	pluginName   string
	logs         []string
	context      *Context
	hostCalls    int
	maxHostCalls int
}

func (inv *invocation) log(level int32, message string) {
	name, ok := logLevelNames[level]
	if !ok {
		name = "UNKNOWN"
	}
	inv.mu.Lock()
	inv.logs = append(inv.logs, fmt.Sprintf("[%s] [%s] %s", inv.pluginName, name, message))
	inv.mu.Unlock()
}

// charge debits one unit from the invocation's host-call budget and
// reports whether the call is still within it. wazero has no native
// fuel/instruction counter, so this is the host-call-count analogue of
// the reference's 1e6-instruction fuel budget.
func (inv *invocation) charge() bool {
	inv.mu.Lock()
	inv.hostCalls++
	ok := inv.hostCalls <= inv.maxHostCalls
	inv.mu.Unlock()
	return ok
}

type invocationKey struct{}

func withInvocation(ctx context.Context, inv *invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

func invocationFrom(ctx context.Context) *invocation {
	inv, _ := ctx.Value(invocationKey{}).(*invocation)
	return inv
}

// buildHostModule compiles the "env" host module exposing the host call
// ABI documented for plugins: host_log, host_get_header, host_set_header,
// host_get_method, host_get_memory_size, host_abort.
func buildHostModule(ctx context.Context, rt wazero.Runtime) (wazero.CompiledModule, error) {
	builder := rt.NewHostModuleBuilder("env")
	builder.NewFunctionBuilder().WithFunc(hostLog).Export("host_log")
	builder.NewFunctionBuilder().WithFunc(hostGetHeader).Export("host_get_header")
	builder.NewFunctionBuilder().WithFunc(hostSetHeader).Export("host_set_header")
	builder.NewFunctionBuilder().WithFunc(hostGetMethod).Export("host_get_method")
	builder.NewFunctionBuilder().WithFunc(hostGetMemorySize).Export("host_get_memory_size")
	builder.NewFunctionBuilder().WithFunc(hostAbort).Export("host_abort")
	return builder.Compile(ctx)
}

// host_log(level, msg_ptr, msg_len) -> i32
func hostLog(ctx context.Context, mod api.Module, level, msgPtr, msgLen int32) int32 {
	inv := invocationFrom(ctx)
	mem := mod.Memory()
	if inv == nil || mem == nil || !inv.charge() {
		return -1
	}
	msg, ok := mem.Read(uint32(msgPtr), uint32(msgLen))
	if !ok {
		return -1
	}
	inv.log(level, string(msg))
	return 0
}

// host_get_header(name_ptr, name_len, val_ptr, val_max_len) -> i32
func hostGetHeader(ctx context.Context, mod api.Module, namePtr, nameLen, valPtr, valMaxLen int32) int32 {
	inv := invocationFrom(ctx)
	mem := mod.Memory()
	if inv == nil || mem == nil || !inv.charge() {
		return -1
	}
	nameBytes, ok := mem.Read(uint32(namePtr), uint32(nameLen))
	if !ok {
		return -1
	}

	inv.mu.Lock()
	value, found := inv.context.Headers[string(nameBytes)]
	inv.mu.Unlock()
	if !found {
		return -1
	}

	valBytes := []byte(value)
	if len(valBytes) > int(valMaxLen) {
		return int32(len(valBytes))
	}
	if !mem.Write(uint32(valPtr), valBytes) {
		return -1
	}
	return int32(len(valBytes))
}

// host_set_header(name_ptr, name_len, val_ptr, val_len) -> i32
func hostSetHeader(ctx context.Context, mod api.Module, namePtr, nameLen, valPtr, valLen int32) int32 {
	inv := invocationFrom(ctx)
	mem := mod.Memory()
	if inv == nil || mem == nil || !inv.charge() {
		return -1
	}
	nameBytes, ok := mem.Read(uint32(namePtr), uint32(nameLen))
	if !ok {
		return -1
	}
	valBytes, ok := mem.Read(uint32(valPtr), uint32(valLen))
	if !ok {
		return -1
	}

	inv.mu.Lock()
	inv.context.Headers[string(nameBytes)] = string(valBytes)
	inv.mu.Unlock()
	return 0
}

// host_get_method(buf_ptr, max_len) -> i32
func hostGetMethod(ctx context.Context, mod api.Module, bufPtr, maxLen int32) int32 {
	inv := invocationFrom(ctx)
	mem := mod.Memory()
	if inv == nil || mem == nil || !inv.charge() {
		return -1
	}
	inv.mu.Lock()
	method := inv.context.Method
	inv.mu.Unlock()
	if method == nil {
		return -1
	}

	methodBytes := []byte(*method)
	if len(methodBytes) > int(maxLen) {
		return int32(len(methodBytes))
	}
	if !mem.Write(uint32(bufPtr), methodBytes) {
		return -1
	}
	return int32(len(methodBytes))
}

// host_get_memory_size() -> i32, in 64 KiB pages.
func hostGetMemorySize(ctx context.Context, mod api.Module) int32 {
	inv := invocationFrom(ctx)
	mem := mod.Memory()
	if inv == nil || mem == nil || !inv.charge() {
		return 0
	}
	return int32(mem.Size() / (64 * 1024))
}

// host_abort(msg_ptr, msg_len)
func hostAbort(ctx context.Context, mod api.Module, msgPtr, msgLen int32) {
	inv := invocationFrom(ctx)
	mem := mod.Memory()
	if inv == nil || mem == nil || !inv.charge() {
		return
	}
	if msg, ok := mem.Read(uint32(msgPtr), uint32(msgLen)); ok {
		inv.log(3, "[ABORT] "+string(msg))
	}
}
