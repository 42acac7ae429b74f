package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Interface != "wlan0" {
		t.Errorf("Expected default interface 'wlan0', got '%s'", cfg.Interface)
	}

	if cfg.PollTimeout != 100*time.Millisecond {
		t.Errorf("Expected default poll timeout 100ms, got %s", cfg.PollTimeout)
	}

	if cfg.HashAlgo != "sha256" {
		t.Errorf("Expected default hash algo 'sha256', got '%s'", cfg.HashAlgo)
	}

	if cfg.LinkType != "ethernet" {
		t.Errorf("Expected default link type 'ethernet', got '%s'", cfg.LinkType)
	}

	if cfg.EBPF.AttachMode != AttachGeneric {
		t.Errorf("Expected default attach mode 'generic', got '%s'", cfg.EBPF.AttachMode)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FRAMECAP_INTERFACE", "eth1")
	t.Setenv("FRAMECAP_POLL_TIMEOUT", "250ms")
	t.Setenv("FRAMECAP_HASH_ALGO", "blake3")
	t.Setenv("FRAMECAP_LINK_TYPE", "raw")
	t.Setenv("FRAMECAP_WAIT_FOR_ADDR", "1")
	t.Setenv("FRAMECAP_EBPF_ATTACH_MODE", "driver")
	t.Setenv("FRAMECAP_EBPF_RING_SIZE", "1048576")
	t.Setenv("FRAMECAP_EBPF_BTF", "true")

	cfg := LoadFromEnv()

	if cfg.Interface != "eth1" {
		t.Errorf("Expected interface 'eth1', got '%s'", cfg.Interface)
	}
	if cfg.PollTimeout != 250*time.Millisecond {
		t.Errorf("Expected poll timeout 250ms, got %s", cfg.PollTimeout)
	}
	if cfg.HashAlgo != "blake3" {
		t.Errorf("Expected hash algo 'blake3', got '%s'", cfg.HashAlgo)
	}
	if cfg.LinkType != "raw" {
		t.Errorf("Expected link type 'raw', got '%s'", cfg.LinkType)
	}
	if !cfg.WaitForAddr {
		t.Error("Expected WaitForAddr to be true")
	}
	if cfg.EBPF.AttachMode != AttachDriver {
		t.Errorf("Expected attach mode 'driver', got '%s'", cfg.EBPF.AttachMode)
	}
	if cfg.EBPF.RingBufferSize != 1<<20 {
		t.Errorf("Expected ring size 1MiB, got %d", cfg.EBPF.RingBufferSize)
	}
	if !cfg.EBPF.BTF.Enable {
		t.Error("Expected BTF to be enabled")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecap.yaml")
	body := []byte(`interface: tun0
poll_timeout: 50ms
link_type: raw
ebpf:
  attach_mode: generic
  ring_buffer_size: 262144
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Interface != "tun0" {
		t.Errorf("Expected interface 'tun0', got '%s'", cfg.Interface)
	}
	if cfg.PollTimeout != 50*time.Millisecond {
		t.Errorf("Expected poll timeout 50ms, got %s", cfg.PollTimeout)
	}
	if cfg.EBPF.RingBufferSize != 262144 {
		t.Errorf("Expected ring size 262144, got %d", cfg.EBPF.RingBufferSize)
	}
	// untouched keys keep their defaults
	if cfg.HashAlgo != "sha256" {
		t.Errorf("Expected default hash algo to survive, got '%s'", cfg.HashAlgo)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecap.yaml")
	if err := os.WriteFile(path, []byte("link_type: token-ring\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error for unknown link type")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CaptureConfig)
		wantErr bool
	}{
		{"valid default config", func(*CaptureConfig) {}, false},
		{"empty interface", func(c *CaptureConfig) { c.Interface = "" }, true},
		{"invalid log level", func(c *CaptureConfig) { c.LogLevel = "trace" }, true},
		{"invalid hash algo", func(c *CaptureConfig) { c.HashAlgo = "md5" }, true},
		{"invalid rate alpha", func(c *CaptureConfig) { c.RateAlpha = 1 }, true},
		{"zero rate interval", func(c *CaptureConfig) { c.RateInterval = 0 }, true},
		{"wait without timeout", func(c *CaptureConfig) {
			c.WaitForAddr = true
			c.AddrTimeout = 0
		}, true},
		{"invalid attach mode", func(c *CaptureConfig) { c.EBPF.AttachMode = "hw" }, true},
		{"ring size not power of two", func(c *CaptureConfig) { c.EBPF.RingBufferSize = 5000 }, true},
		{"ring size below a page", func(c *CaptureConfig) { c.EBPF.RingBufferSize = 1024 }, true},
		{"ring size ok", func(c *CaptureConfig) { c.EBPF.RingBufferSize = 1 << 18 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framecap.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changed := make(chan *CaptureConfig, 1)
	w := NewWatcher(path, func(cfg *CaptureConfig) {
		select {
		case changed <- cfg:
		default:
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.LogLevel != "debug" {
			t.Fatalf("expected reloaded log level 'debug', got %q", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}
