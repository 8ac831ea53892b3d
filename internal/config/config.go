// Package config loads termweb-server's runtime configuration from flags,
// environment variables, and an optional config file via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all tunables for the render loop, the WebSocket layer, and
// the file-transfer engine. Fields map 1:1 onto spec.md's data model and
// the two timing constants the spec leaves as Open Questions.
type Config struct {
	HTTPPort    int    `mapstructure:"http_port"`
	WebRoot     string `mapstructure:"web_root"`
	PanelPort   int    `mapstructure:"panel_port"`
	ControlPort int    `mapstructure:"control_port"`

	// RenderFPS is the render loop's target frame rate (spec.md §4.7).
	RenderFPS int `mapstructure:"render_fps"`
	// KeyframeIntervalMs forces a keyframe after this many milliseconds
	// without one (spec.md §4.5).
	KeyframeIntervalMs int64 `mapstructure:"keyframe_interval_ms"`
	// DeflateLevel is the fixed compression level used for pixel frames.
	DeflateLevel int `mapstructure:"deflate_level"`

	// MaxPayloadBytes caps an individual WebSocket frame payload (spec.md §4.1).
	MaxPayloadBytes int64 `mapstructure:"max_payload_bytes"`
	// MaxDecompressedBytes caps zstd output on the compression envelope
	// (spec.md §4.1, §6 — zip-bomb safety).
	MaxDecompressedBytes int64 `mapstructure:"max_decompressed_bytes"`
	// ReadTimeoutMs is loaded but not passed to the WebSocket servers:
	// wsserver's per-read worker timeout is fixed at 100 ms.
	ReadTimeoutMs int `mapstructure:"read_timeout_ms"`
	// WriteTimeoutMs bounds a single frame write.
	WriteTimeoutMs int `mapstructure:"write_timeout_ms"`
	// ShutdownDrainSec is loaded but not passed to the WebSocket servers:
	// wsserver's Server.Stop drain wait is fixed at 3 s.
	ShutdownDrainSec int `mapstructure:"shutdown_drain_sec"`

	// PanelEnableZstd controls the compression envelope on the panel
	// WebSocket endpoint. spec.md §6 says panel streams disable it because
	// pixel payloads are already DEFLATEd.
	PanelEnableZstd bool `mapstructure:"panel_enable_zstd"`
	// ControlEnableZstd controls the compression envelope on the control
	// WebSocket endpoint.
	ControlEnableZstd bool `mapstructure:"control_enable_zstd"`

	// TransferStateDir holds resumable transfer session state
	// ($HOME/.termweb/transfers by default).
	TransferStateDir string `mapstructure:"transfer_state_dir"`
	// TransferChunkBytes is the maximum chunk size read per file_request.
	TransferChunkBytes int `mapstructure:"transfer_chunk_bytes"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the spec's documented defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		HTTPPort:    8080,
		WebRoot:     "../web",
		PanelPort:   0,
		ControlPort: 0,

		RenderFPS:          30,
		KeyframeIntervalMs: 2000,
		DeflateLevel:       6,

		MaxPayloadBytes:      16 * 1024 * 1024,
		MaxDecompressedBytes: 16 * 1024 * 1024,
		ReadTimeoutMs:        100,
		WriteTimeoutMs:       1000,
		ShutdownDrainSec:     3,

		PanelEnableZstd:   false,
		ControlEnableZstd: true,

		TransferStateDir:   filepath.Join(home, ".termweb", "transfers"),
		TransferChunkBytes: 1 << 20,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from an optional file at path, then overlays
// TERMWEB_-prefixed environment variables, falling back to Default() for
// anything unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TERMWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so bind each one to
	// its environment variable explicitly.
	for _, key := range []string{"http_port", "web_root", "panel_port", "control_port",
		"render_fps", "keyframe_interval_ms", "deflate_level", "max_payload_bytes",
		"max_decompressed_bytes", "read_timeout_ms", "write_timeout_ms", "shutdown_drain_sec",
		"panel_enable_zstd", "control_enable_zstd", "transfer_state_dir",
		"transfer_chunk_bytes", "log_level", "log_format"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}
