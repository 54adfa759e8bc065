package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/ghostreg/internal/catalogue"
	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/config"
	"github.com/l1jgo/ghostreg/internal/core/event"
	coresys "github.com/l1jgo/ghostreg/internal/core/system"
	"github.com/l1jgo/ghostreg/internal/debughttp"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/handler"
	"github.com/l1jgo/ghostreg/internal/metrics"
	gonet "github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"github.com/l1jgo/ghostreg/internal/persist"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/l1jgo/ghostreg/internal/scripting"
	"github.com/l1jgo/ghostreg/internal/system"
	"github.com/l1jgo/ghostreg/internal/template"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/width"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(nodeName, role string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Printf("\033[36;1m  │\033[0m            ghostreg  v%s              \033[36;1m│\033[0m\n", version)
	fmt.Println("\033[36;1m  │\033[0m     ghost schema compiler · type registry \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mnode:\033[0m %s \033[90m(role: %s)\033[0m\n\n", nodeName, role)
}

// displayWidth counts terminal columns; wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - displayWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Node ───────────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	role, err := ghost.ParseRole(cfg.Node.Role)
	if err != nil {
		return err
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Node.Name, role.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Catalogue and templates
	printSection("content")

	paths, err := catalogue.ExpandPaths(cfg.Catalogue.Paths)
	if err != nil {
		return err
	}
	table, err := catalogue.LoadFiles(paths, log)
	if err != nil {
		return fmt.Errorf("catalogue: %w", err)
	}
	printStat("serializers", table.Len())

	store := template.NewStore()
	n, err := template.LoadDir(cfg.Templates.Dir, store)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	printStat("template files", n)

	engine, err := scripting.NewEngine(cfg.Templates.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer engine.Close()
	printStat("script templates", engine.Register(store))

	var watcher *template.Watcher
	if cfg.Templates.Watch {
		watcher, err = template.NewWatcher(cfg.Templates.Dir, cfg.Templates.WatchQueue, log)
		if err != nil {
			return fmt.Errorf("template watcher: %w", err)
		}
		defer watcher.Close()
		printOK(fmt.Sprintf("watching %s", cfg.Templates.Dir))
	}
	fmt.Println()

	// 4. Journal
	bus := event.NewBus()
	var journal *persist.Journal
	if cfg.Journal.Driver != "" && cfg.Journal.Driver != "none" {
		printSection("journal")
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		backend, err := persist.Open(openCtx, cfg.Journal, cfg.Node.Name, log)
		cancel()
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		journal = persist.NewJournal(backend, cfg.Node.Name, role, log)
		journal.Subscribe(bus)
		printOK(fmt.Sprintf("%s journal ready (session %s)", cfg.Journal.Driver, journal.Session()))
		fmt.Println()
	}

	// 5. Collection
	sessions := gonet.NewSessionStore()
	var (
		netServer   *gonet.Server
		serverPeers *gonet.ServerPeers
		clientPeers *gonet.ClientPeers
		peers       collection.Peers
	)
	if role == ghost.RoleServer {
		serverPeers = gonet.NewServerPeers(sessions)
		peers = serverPeers
	} else {
		clientPeers = gonet.NewClientPeers(sessions)
		peers = clientPeers
	}

	reg := collection.NewRegistry(role, schema.NewCompiler(table, log), log)
	loop := collection.NewLoop(table, reg, store, peers, bus, log, collection.Options{
		MaxCompilesPerTick: cfg.Collection.MaxCompilesPerTick,
		LoadingGraceTicks:  cfg.Collection.LoadingGraceTicks,
	})
	collector := metrics.New()
	loop.SetObserver(collector)
	if err := loop.Prepare(); err != nil {
		return err
	}

	// 6. Transport
	printSection("network")
	pktReg := packet.NewRegistry(log)
	deps := &handler.Deps{
		Role:            role,
		NodeName:        cfg.Node.Name,
		ProtocolVersion: cfg.Network.ProtocolVersion,
		Loop:            loop,
		Bus:             bus,
		Client:          clientPeers,
		Log:             log,
	}
	handler.RegisterAll(pktReg, deps)

	if role == ghost.RoleServer {
		netServer, err = gonet.NewServer(cfg.Network.BindAddress, cfg.Network.InQueueSize, cfg.Network.OutQueueSize, cfg.Network.PacketsPerSecond, log)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		netServer.WriteTimeout = cfg.Network.WriteTimeout
		go netServer.AcceptLoop()
		printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	} else {
		sess, err := gonet.Dial(ctx, cfg.Network.ServerAddress, cfg.Network.DialTimeout, cfg.Network.InQueueSize, cfg.Network.OutQueueSize, log)
		if err != nil {
			return err
		}
		sessions.Add(sess)
		handler.SendVersion(sess, deps)
		printReady(fmt.Sprintf("connected to %s", cfg.Network.ServerAddress))
	}

	// 7. Systems, in phase order
	runner := coresys.NewRunner()
	if watcher != nil {
		runner.Register(system.NewTemplateInputSystem(watcher, store))
	}
	runner.Register(system.NewInputSystem(netServer, pktReg, sessions, cfg.Network.MaxPacketsPerTick, log))
	runner.Register(system.NewEventSystem(bus))
	runner.Register(system.NewCollectionSystem(loop))
	runner.Register(system.NewAnnounceSystem(loop, sessions, log))
	runner.Register(system.NewOutputSystem(sessions))
	if journal != nil {
		runner.Register(system.NewJournalSystem(journal, cfg.Journal.FlushIntervalTicks))
	}
	runner.Register(system.NewCleanupSystem(netServer, clientPeers, sessions, bus, log))

	// 8. Debug endpoint
	if cfg.Debug.HTTPAddress != "" {
		dbg := debughttp.NewHandler(loop.View, prometheus.DefaultGatherer, log)
		go func() {
			if err := dbg.Serve(ctx, cfg.Debug.HTTPAddress); err != nil {
				log.Error("debug http stopped", zap.Error(err))
			}
		}()
		printReady(fmt.Sprintf("debug http on %s", cfg.Debug.HTTPAddress))
	}
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	// 9. Tick loop
	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	joined := false
	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
			if role == ghost.RoleClient {
				if sessions.Len() > 0 {
					joined = true
				} else if joined && loop.State() == collection.StateIdle {
					log.Info("server connection closed")
					return shutdown(journal, log)
				}
			}
		case <-ctx.Done():
			log.Info("shutdown signal received")
			if serverPeers != nil {
				serverPeers.Stop()
			}
			if netServer != nil {
				netServer.Shutdown()
			}
			sessions.ForEach(func(sess *gonet.Session) {
				sess.Disconnect(ghost.ReasonClosed)
			})
			// One more pass flushes the disconnect notices and resets the loop.
			runner.Tick(cfg.Network.TickRate)
			waitClosed(sessions, time.Second)
			return shutdown(journal, log)
		}
	}
}

// waitClosed gives writers up to d to deliver their disconnect notices.
func waitClosed(sessions *gonet.SessionStore, d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		open := 0
		sessions.ForEach(func(sess *gonet.Session) {
			if !sess.IsClosed() {
				open++
			}
		})
		if open == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func shutdown(journal *persist.Journal, log *zap.Logger) error {
	if journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.Close(ctx); err != nil {
			log.Warn("journal close failed", zap.Error(err))
		}
	}
	log.Info("node stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
