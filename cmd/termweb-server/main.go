package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/termweb/termweb-go/internal/config"
	"github.com/termweb/termweb-go/internal/logging"
	"github.com/termweb/termweb-go/internal/orchestrator"
	"github.com/termweb/termweb-go/internal/surface"
	"github.com/termweb/termweb-go/internal/wsconn"
	"github.com/termweb/termweb-go/internal/wsserver"
)

var (
	cfgFile  string
	httpPort int
	webRoot  string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "termweb-server",
	Short: "Multiplexed terminal-streaming server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().IntVarP(&httpPort, "http-port", "p", 0, "HTTP port (also --port)")
	rootCmd.PersistentFlags().IntVar(&httpPort, "port", 0, "HTTP port (alias of --http-port)")
	rootCmd.PersistentFlags().StringVar(&webRoot, "web-root", "", "directory of static web assets")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runServer wires config, the orchestrator, and the three external
// bindings (HTTP, panel WS, control WS) together, then blocks until a
// shutdown signal arrives (spec.md §6 CLI, §4.7 Server).
func runServer() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if httpPort != 0 {
		cfg.HTTPPort = httpPort
	}
	if webRoot != "" {
		cfg.WebRoot = webRoot
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	// The native terminal-emulator library is an external collaborator
	// (spec.md §1 Out-of-scope); no such collaborator ships in this repo,
	// so panels are backed by the deterministic in-memory surface until
	// a real emulator binding is wired in at this seam.
	surfaceFactory := func() surface.Surface { return surface.NewFake() }

	orch := orchestrator.New(orchestrator.Config{
		RenderFPS:          cfg.RenderFPS,
		KeyframeIntervalMs: cfg.KeyframeIntervalMs,
		DeflateLevel:       cfg.DeflateLevel,
		TransferChunkBytes: cfg.TransferChunkBytes,
	}, surfaceFactory, nil, cfg.TransferStateDir)

	panelSrv, err := wsserver.New(addr(cfg.PanelPort), wsserver.Config{
		ConnCfg: wsconn.Config{
			EnableCompression:    cfg.PanelEnableZstd,
			MaxPayloadBytes:      cfg.MaxPayloadBytes,
			MaxDecompressedBytes: cfg.MaxDecompressedBytes,
			WriteTimeout:         time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
		},
		WriteTimeout: time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
	}, orch.PanelCallbacks())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start panel server: %v\n", err)
		os.Exit(1)
	}

	controlSrv, err := wsserver.New(addr(cfg.ControlPort), wsserver.Config{
		ConnCfg: wsconn.Config{
			EnableCompression:    cfg.ControlEnableZstd,
			MaxPayloadBytes:      cfg.MaxPayloadBytes,
			MaxDecompressedBytes: cfg.MaxDecompressedBytes,
			WriteTimeout:         time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
		},
		WriteTimeout: time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
	}, orch.ControlCallbacks())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start control server: %v\n", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: http.FileServer(http.Dir(cfg.WebRoot)),
	}

	log.Info("termweb-server starting",
		"http_addr", httpSrv.Addr,
		"panel_addr", panelSrv.Addr().String(),
		"control_addr", controlSrv.Addr().String(),
		"web_root", cfg.WebRoot,
	)

	go func() {
		if err := panelSrv.Serve(); err != nil {
			log.Error("panel server stopped", "error", err)
		}
	}()
	go func() {
		if err := controlSrv.Serve(); err != nil {
			log.Error("control server stopped", "error", err)
		}
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", "error", err)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down termweb-server")
		orch.Stop()
	}()

	// The invoking goroutine becomes the render loop until Stop is called.
	orch.RunRenderLoop()

	panelSrv.Stop()
	controlSrv.Stop()
	_ = httpSrv.Close()
	log.Info("termweb-server stopped")
}

func addr(port int) string {
	return net.JoinHostPort("", fmt.Sprintf("%d", port))
}
