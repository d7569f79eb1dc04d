// SPDX-License-Identifier: GPL-3.0-or-later

// Command probe is the entrypoint of the measurement probe: it loads
// configuration, establishes (and re-establishes) the coordinator session,
// and dispatches inbound measurement requests to the per-tool handlers
// until SIGINT/SIGTERM requests an orderly drain.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/globalping/probe-core/internal/config"
	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/exec"
	"github.com/globalping/probe-core/internal/handlers"
	"github.com/globalping/probe-core/internal/lifecycle"
	"github.com/globalping/probe-core/internal/netcore"
	"github.com/globalping/probe-core/internal/parse"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/globalping/probe-core/internal/registry"
	"github.com/globalping/probe-core/internal/resolve"
	"github.com/globalping/probe-core/internal/status"
	"github.com/google/uuid"
)

// probeVersion is reported on the connect handshake.
const probeVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	uuidPath := flag.String("uuid-file", defaultUUIDPath(), "path where the persistent probe UUID is stored")
	flag.Parse()

	logger := newLogger(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	probeUUID, err := loadOrCreateUUID(*uuidPath)
	if err != nil {
		logger.Error("failed to establish persistent probe uuid", "error", err)
		os.Exit(1)
	}

	netcfg := netcore.NewConfig()

	deps := &handlers.Deps{Config: &cfg, Netcfg: netcfg, Logger: logger}
	if !unbufferAvailable(deps.UnbufferPath) {
		logger.Warn("unbuffer not found on PATH; subprocess tools will fail their self-test")
	}

	self := status.New(selfTestPing(deps), func() bool { return unbufferAvailable(deps.UnbufferPath) }, func(snap status.Snapshot) {
		logger.Info("self-test status changed", "state", snap.State, "ipv4", snap.IPv4Support, "ipv6", snap.IPv6Support)
	})

	dial := func(ctx context.Context) (*coordinator.Session, error) {
		return dialCoordinator(ctx, &cfg, netcfg, logger, probeUUID)
	}

	sup := lifecycle.New(dial, handlers.Dispatch(deps), registry.New(), self, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining in-flight measurements")
		sup.Stop()
	}()

	sup.Run(context.Background())
	logger.Info("probe exited")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func defaultUUIDPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "globalping-probe", "uuid")
	}
	return "/etc/globalping-probe/uuid"
}

// loadOrCreateUUID reads a persistent v4 UUID from path, generating and
// saving a fresh one if the file is absent or unreadable.
func loadOrCreateUUID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String(), nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return id, nil // still usable this run, just not persisted
	}
	_ = os.WriteFile(path, []byte(id), 0o600)
	return id, nil
}

func unbufferAvailable(path string) bool {
	name := path
	if name == "" {
		name = "unbuffer"
	}
	_, err := osexec.LookPath(name)
	return err == nil
}

// selfTestPing runs a real ICMP ping against target and reports zero
// packet loss, the probe self-test of spec.md §4.8.
func selfTestPing(deps *handlers.Deps) status.PingFunc {
	return func(ctx context.Context, target string, ipVersion int, packets int) bool {
		ipFlag := "-4"
		if ipVersion == 6 {
			ipFlag = "-6"
		}
		args := []string{"ping", ipFlag, "-O", "-c", fmt.Sprintf("%d", packets), "-i", "0.3", "-w", "10", target}
		res := exec.Run(ctx, deps.CommandsTimeout(), nil, deps.Unbuffer(), args...)
		out := parse.ParsePing(res.Stdout)
		return out.Stats.HasStats && out.Stats.Loss == 0
	}
}

func dialCoordinator(ctx context.Context, cfg *config.Config, netcfg *netcore.Config, logger *slog.Logger, probeUUID string) (*coordinator.Session, error) {
	resolver := resolve.New(netcfg, logger, "")
	addr, err := resolver.Lookup(ctx, cfg.APIHost, 4)
	if err != nil {
		addr, err = resolver.Lookup(ctx, cfg.APIHost, 6)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", cfg.APIHost, err)
		}
	}

	fakeIP := ""
	if cfg.FakeIPFirstOctet != 0 {
		fakeIP = fmt.Sprintf("%d.0.0.1", cfg.FakeIPFirstOctet)
	}

	params := proto.HandshakeParams{
		Version:     probeVersion,
		NodeVersion: cfg.NodeVersion,
		UUID:        probeUUID,
		FakeIP:      fakeIP,
	}

	transport, err := coordinator.Dial(ctx, netcfg, logger, addr, 443, cfg.APIHost, true, params)
	if err != nil {
		return nil, err
	}
	return coordinator.NewSession(transport), nil
}
