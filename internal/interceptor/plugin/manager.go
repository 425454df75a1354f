package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/ilog"
)

// Host orchestrates every loaded plugin: load/unload/reload, discovery,
// and hook dispatch across the whole set in name-sorted order. One Host
// owns one wazero runtime and one compiled "env" host module, shared by
// every plugin it loads.
type Host struct {
	config    SystemConfig
	validator *Validator

	rt wazero.Runtime

	mu      sync.RWMutex
	plugins map[string]*Runtime
}

// NewHost builds the shared WASM runtime and host ABI module, ready to
// load plugins from config.PluginDir.
func NewHost(ctx context.Context, config SystemConfig) (*Host, error) {
	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	compiledHost, err := buildHostModule(ctx, rt)
	if err != nil {
		rt.Close(ctx)
		return nil, errs.New(errs.KindConfigInvalid, "compiling plugin host ABI", err)
	}
	if _, err := rt.InstantiateModule(ctx, compiledHost, wazero.NewModuleConfig()); err != nil {
		rt.Close(ctx)
		return nil, errs.New(errs.KindConfigInvalid, "instantiating plugin host ABI", err)
	}

	return &Host{
		config:    config,
		validator: NewValidator(config.PluginDir),
		rt:        rt,
		plugins:   make(map[string]*Runtime),
	}, nil
}

// Close tears down the shared WASM runtime and every loaded plugin module
// with it.
func (h *Host) Close(ctx context.Context) error {
	return h.rt.Close(ctx)
}

// LoadAll loads every enabled plugin in config.Plugins, logging and
// skipping any that fail rather than aborting the whole batch.
func (h *Host) LoadAll(ctx context.Context) error {
	if !h.config.Enabled {
		ilog.Info("plugin system disabled")
		return nil
	}

	if err := os.MkdirAll(h.config.PluginDir, 0o755); err != nil {
		return errs.New(errs.KindIO, "creating plugin directory", err)
	}

	var loaded, failed int
	for _, cfg := range h.config.Plugins {
		if !cfg.Enabled {
			ilog.Info("plugin disabled, skipping", "plugin", cfg.Name)
			continue
		}
		if err := h.LoadPlugin(ctx, cfg); err != nil {
			ilog.Warn("failed to load plugin", "plugin", cfg.Name, "error", err)
			failed++
			continue
		}
		ilog.Info("plugin loaded successfully", "plugin", cfg.Name)
		loaded++
	}
	ilog.Info("plugin loading complete", "loaded", loaded, "failed", failed)
	return nil
}

// LoadPlugin validates, compiles, and initializes a single plugin, then
// registers it under config.Name.
func (h *Host) LoadPlugin(ctx context.Context, config Config) error {
	path := config.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.config.PluginDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("plugin file not found: %s", path), err)
	}

	canonical, err := h.validator.ValidatePath(path)
	if err != nil {
		return err
	}
	if err := h.validator.ValidateWasm(canonical); err != nil {
		return err
	}

	wasmBytes, err := os.ReadFile(canonical)
	if err != nil {
		return errs.New(errs.KindIO, "reading plugin file", err)
	}

	config.Path = canonical
	runtime, err := newRuntime(ctx, h.rt, config, wasmBytes)
	if err != nil {
		return err
	}
	if err := runtime.Initialize(ctx); err != nil {
		runtime.Close(ctx)
		return err
	}

	h.mu.Lock()
	if old, ok := h.plugins[config.Name]; ok {
		old.Close(ctx)
	}
	h.plugins[config.Name] = runtime
	h.mu.Unlock()
	return nil
}

// UnloadPlugin removes a loaded plugin by name.
func (h *Host) UnloadPlugin(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	runtime, ok := h.plugins[name]
	if !ok {
		return errs.New(errs.KindNotFound, fmt.Sprintf("plugin %q not found", name), nil)
	}
	delete(h.plugins, name)
	runtime.Close(ctx)
	ilog.Info("plugin unloaded", "plugin", name)
	return nil
}

// ReloadPlugin unloads (if loaded) and loads name again from its
// originally configured settings.
func (h *Host) ReloadPlugin(ctx context.Context, name string) error {
	var cfg Config
	found := false
	for _, c := range h.config.Plugins {
		if c.Name == name {
			cfg = c
			found = true
			break
		}
	}
	if !found {
		return errs.New(errs.KindNotFound, fmt.Sprintf("plugin %q not in configuration", name), nil)
	}

	h.UnloadPlugin(ctx, name) // ignore error if it wasn't loaded

	if err := h.LoadPlugin(ctx, cfg); err != nil {
		return err
	}
	ilog.Info("plugin reloaded", "plugin", name)
	return nil
}

// ExecuteHook runs hook across every enabled plugin in name-sorted order,
// each seeing the result of the ones before it. A plugin whose result
// signals ShouldContinue=false stops the chain immediately; a plugin that
// errors is logged and skipped, never blocking the rest.
func (h *Host) ExecuteHook(ctx context.Context, hook Hook, hookCtx *Context) (*Context, error) {
	h.mu.RLock()
	runtimes := make([]*Runtime, 0, len(h.plugins))
	for _, r := range h.plugins {
		runtimes = append(runtimes, r)
	}
	h.mu.RUnlock()

	if len(runtimes) == 0 {
		return hookCtx, nil
	}
	sort.Slice(runtimes, func(i, j int) bool { return runtimes[i].Name() < runtimes[j].Name() })

	current := hookCtx
	for _, r := range runtimes {
		if !r.Enabled() {
			continue
		}
		result, err := r.CallHook(ctx, hook, current)
		if err != nil {
			ilog.Warn("plugin hook failed", "plugin", r.Name(), "hook", string(hook), "error", err)
			continue
		}
		if !result.ShouldContinue {
			ilog.Warn("plugin blocked further processing", "plugin", r.Name(), "hook", string(hook), "message", result.Message)
			return current, nil
		}
		if result.Modified && result.Context != nil {
			current = result.Context
		}
	}
	return current, nil
}

// ListPlugins returns the names of every currently loaded plugin.
func (h *Host) ListPlugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	return names
}

// IsLoaded reports whether a plugin by that name is currently loaded.
func (h *Host) IsLoaded(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.plugins[name]
	return ok
}

// Count returns the number of currently loaded plugins.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plugins)
}

// DiscoverPlugins lists the .wasm files sitting in the plugin directory
// without loading any of them.
func (h *Host) DiscoverPlugins() ([]string, error) {
	entries, err := os.ReadDir(h.config.PluginDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindIO, "reading plugin directory", err)
	}

	var found []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".wasm" {
			found = append(found, filepath.Join(h.config.PluginDir, entry.Name()))
		}
	}
	return found, nil
}
