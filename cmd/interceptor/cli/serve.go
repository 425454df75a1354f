package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/int3rceptor/interceptor/internal/config"
	"github.com/int3rceptor/interceptor/internal/ilog"
	"github.com/int3rceptor/interceptor/internal/interceptor/ca"
	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
	"github.com/int3rceptor/interceptor/internal/interceptor/plugin"
	"github.com/int3rceptor/interceptor/internal/interceptor/proxy"
	"github.com/int3rceptor/interceptor/internal/interceptor/rules"
	"github.com/int3rceptor/interceptor/internal/interceptor/scope"
	"github.com/int3rceptor/interceptor/internal/interceptor/store"
	"github.com/int3rceptor/interceptor/internal/interceptor/tlsaccept"
	"github.com/int3rceptor/interceptor/internal/interceptor/upstream"
)

var askPassphrase bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the interception proxy",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&askPassphrase, "ask-passphrase", false, "prompt for the capture store encryption key instead of reading it from config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if askPassphrase {
		pass, err := promptPassphrase("capture store passphrase")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		cfg.Encryption = config.EncryptionConfig{Source: "env", EnvVar: "INTERCEPTOR_CAPTURE_KEY"}
		os.Setenv(cfg.Encryption.EnvVar, pass)
	}

	_, srv, closeFn, err := buildProxy(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	addr, port, err := splitListen(cfg.Listen)
	if err != nil {
		return fmt.Errorf("parsing listen address %q: %w", cfg.Listen, err)
	}
	srv.SetBindAddr(addr)
	srv.SetPort(port)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}
	ilog.Info("proxy listening", "addr", srv.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ilog.Info("shutting down")
	return srv.Stop(context.Background())
}

// buildProxy wires every component a Proxy depends on from cfg, following
// the same dependency graph regardless of caller (serve, tests, and any
// future embedding all go through this one constructor).
func buildProxy(cfg config.Config) (*proxy.Proxy, *proxy.Server, func(), error) {
	caInst, err := ca.New(cfg.CADir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading CA: %w", err)
	}
	acceptor := tlsaccept.New(caInst)

	keyProvider, err := store.ResolveKey(store.KeyConfig{
		Source:  cfg.Encryption.Source,
		EnvVar:  cfg.Encryption.EnvVar,
		KeyFile: cfg.Encryption.KeyFile,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolving capture encryption key: %w", err)
	}

	var ring *capture.Ring
	var closeFns []func()
	if cfg.CaptureDBPath != "" {
		captureStore, err := store.Open(cfg.CaptureDBPath, keyProvider)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening capture store: %w", err)
		}
		closeFns = append(closeFns, func() { captureStore.Close() })
		ring = capture.NewWithStore(cfg.CaptureCapacity, captureStore)
	} else {
		ring = capture.New(cfg.CaptureCapacity)
	}

	engine := rules.New()
	for _, rc := range cfg.Rules {
		rule, err := translateRule(rc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rule %q: %w", rc.ID, err)
		}
		engine.Add(rule)
	}

	scopeMgr := scope.New()
	scopeMgr.SetConfig(scope.Config{Includes: cfg.Scope.Includes, Excludes: cfg.Scope.Excludes})

	pluginSystem := plugin.DefaultSystemConfig()
	if cfg.PluginDir != "" {
		pluginSystem.PluginDir = cfg.PluginDir
	}
	pluginHost, err := plugin.NewHost(context.Background(), pluginSystem)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("starting plugin host: %w", err)
	}
	if err := pluginHost.LoadAll(context.Background()); err != nil {
		return nil, nil, nil, fmt.Errorf("loading plugins: %w", err)
	}
	closeFns = append(closeFns, func() { pluginHost.Close(context.Background()) })

	p := proxy.New(proxy.Options{
		TLS:      acceptor,
		Upstream: upstream.New(upstream.Options{}),
		Rules:    engine,
		Scope:    scopeMgr,
		Capture:  ring,
		Plugins:  pluginHost,
	})
	srv := proxy.NewServer(p)

	closeAll := func() {
		for _, fn := range closeFns {
			fn()
		}
	}
	return p, srv, closeAll, nil
}

// translateRule maps a file-format RuleConfig into the engine's Rule, since
// interceptor.yaml's condition_kind vocabulary ("url_substring") is more
// self-explanatory in a config file than the engine's internal constant
// names ("url_contains").
func translateRule(rc config.RuleConfig) (rules.Rule, error) {
	kind, ok := map[string]rules.ConditionKind{
		"url_substring":    rules.ConditionURLContains,
		"url_regex":        rules.ConditionURLRegex,
		"header_substring": rules.ConditionHeaderContains,
		"header_regex":     rules.ConditionHeaderRegex,
		"body_substring":   rules.ConditionBodyContains,
		"body_regex":       rules.ConditionBodyRegex,
	}[rc.ConditionKind]
	if !ok {
		return rules.Rule{}, fmt.Errorf("unknown condition_kind %q", rc.ConditionKind)
	}

	direction := rules.DirectionRequest
	if rc.Direction == "response" {
		direction = rules.DirectionResponse
	}

	return rules.Rule{
		ID:        rc.ID,
		Active:    rc.Active,
		Direction: direction,
		Condition: rules.Condition{
			Kind:       kind,
			HeaderName: rc.HeaderName,
			Value:      rc.ConditionValue,
		},
		Action: rules.Action{
			Kind:        rules.ActionKind(rc.ActionKind),
			Target:      rc.ActionValue,
			Replacement: rc.ActionExtra,
			HeaderName:  rc.ActionName,
			HeaderValue: rc.ActionValue,
		},
	}, nil
}

func splitListen(listen string) (addr string, port int, err error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, err
	}
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
