package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig holds configuration for frame capture, recording and export
type CaptureConfig struct {
	// Interface is the network interface the XDP program is attached to
	Interface string `yaml:"interface"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// PollTimeout bounds a single wait on the ring buffer
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// MetricsAddr enables the Prometheus endpoint when non-empty
	MetricsAddr string `yaml:"metrics_addr"`

	// StateDir enables frame recording into a Pebble store when non-empty
	StateDir string `yaml:"state_dir"`

	// HashAlgo specifies the hash algorithm for stored frames ("sha256" or "blake3")
	HashAlgo string `yaml:"hash_algo"`

	// LinkType is the pcap link type used on export ("ethernet" or "raw")
	LinkType string `yaml:"link_type"`

	// WaitForAddr blocks capture start until the interface carries an IPv4 address
	WaitForAddr bool          `yaml:"wait_for_addr"`
	AddrTimeout time.Duration `yaml:"addr_timeout"`

	// RateInterval and RateAlpha drive the per-EtherType frame rate estimator
	RateInterval time.Duration `yaml:"rate_interval"`
	RateAlpha    float64       `yaml:"rate_alpha"`

	// EBPF holds configuration for the kernel-side filter program
	EBPF EBPFConfig `yaml:"ebpf"`
}

// EBPFConfig captures settings for loading and attaching the XDP program
type EBPFConfig struct {
	ProgramPath    string    `yaml:"program_path"`
	AttachMode     string    `yaml:"attach_mode"`
	RingBufferSize uint32    `yaml:"ring_buffer_size"`
	BTF            BTFConfig `yaml:"btf"`
}

// BTFConfig controls where kernel type information comes from for CO-RE programs
type BTFConfig struct {
	Enable        bool   `yaml:"enable"`
	CacheDir      string `yaml:"cache_dir"`
	AllowDownload bool   `yaml:"allow_download"`
	HubMirror     string `yaml:"hub_mirror"`
}

const (
	AttachGeneric = "generic"
	AttachDriver  = "driver"
	AttachOffload = "offload"
)

// DefaultPollTimeout matches the 100ms poll cadence of the capture loop.
const DefaultPollTimeout = 100 * time.Millisecond

// DefaultConfig returns the default configuration
func DefaultConfig() *CaptureConfig {
	return &CaptureConfig{
		Interface:    "wlan0",
		LogLevel:     "info",
		PollTimeout:  DefaultPollTimeout,
		HashAlgo:     "sha256",
		LinkType:     "ethernet",
		AddrTimeout:  30 * time.Second,
		RateInterval: time.Second,
		RateAlpha:    0.3,
		EBPF:         defaultEBPFConfig(),
	}
}

// LoadFile reads a YAML file on top of the defaults, then applies environment overrides
func LoadFile(path string) (*CaptureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *CaptureConfig {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from FRAMECAP_* environment variables
func (c *CaptureConfig) ApplyEnv() {
	if v := os.Getenv("FRAMECAP_INTERFACE"); v != "" {
		c.Interface = v
	}
	if v := os.Getenv("FRAMECAP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FRAMECAP_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollTimeout = d
		}
	}
	if v := os.Getenv("FRAMECAP_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("FRAMECAP_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("FRAMECAP_HASH_ALGO"); v != "" {
		c.HashAlgo = v
	}
	if v := os.Getenv("FRAMECAP_LINK_TYPE"); v != "" {
		c.LinkType = v
	}
	if v := os.Getenv("FRAMECAP_WAIT_FOR_ADDR"); v != "" {
		c.WaitForAddr = parseBool(v)
	}
	if v := os.Getenv("FRAMECAP_ADDR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.AddrTimeout = d
		}
	}
	if v := os.Getenv("FRAMECAP_RATE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateInterval = d
		}
	}
	if v := os.Getenv("FRAMECAP_RATE_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateAlpha = f
		}
	}

	c.EBPF = loadEBPFConfigFromEnv(c.EBPF)
}

// Validate checks if the configuration is valid
func (c *CaptureConfig) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.LogLevel)
	}

	if c.HashAlgo != "sha256" && c.HashAlgo != "blake3" {
		return fmt.Errorf("invalid hash algorithm: %s (must be 'sha256' or 'blake3')", c.HashAlgo)
	}

	if c.LinkType != "ethernet" && c.LinkType != "raw" {
		return fmt.Errorf("invalid link type: %s (must be 'ethernet' or 'raw')", c.LinkType)
	}

	if c.WaitForAddr && c.AddrTimeout <= 0 {
		return fmt.Errorf("address timeout must be positive, got: %s", c.AddrTimeout)
	}

	if c.RateInterval <= 0 {
		return fmt.Errorf("rate interval must be > 0")
	}
	if c.RateAlpha <= 0 || c.RateAlpha >= 1 {
		return fmt.Errorf("rate alpha must be between 0 and 1 (exclusive)")
	}

	if err := c.EBPF.Validate(); err != nil {
		return fmt.Errorf("ebpf config invalid: %w", err)
	}

	return nil
}

func defaultEBPFConfig() EBPFConfig {
	return EBPFConfig{
		ProgramPath: "",
		AttachMode:  AttachGeneric,
		BTF: BTFConfig{
			Enable:        false,
			AllowDownload: false,
		},
	}
}

func loadEBPFConfigFromEnv(cfg EBPFConfig) EBPFConfig {
	if v := os.Getenv("FRAMECAP_EBPF_PROGRAM"); v != "" {
		cfg.ProgramPath = v
	}
	if v := os.Getenv("FRAMECAP_EBPF_ATTACH_MODE"); v != "" {
		cfg.AttachMode = v
	}
	if v := os.Getenv("FRAMECAP_EBPF_RING_SIZE"); v != "" {
		if size, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.RingBufferSize = uint32(size)
		}
	}
	if v := os.Getenv("FRAMECAP_EBPF_BTF"); v != "" {
		cfg.BTF.Enable = parseBool(v)
	}
	if v := os.Getenv("FRAMECAP_EBPF_BTF_CACHE"); v != "" {
		cfg.BTF.CacheDir = v
	}
	if v := os.Getenv("FRAMECAP_EBPF_BTF_DOWNLOAD"); v != "" {
		cfg.BTF.AllowDownload = parseBool(v)
	}
	if v := os.Getenv("FRAMECAP_EBPF_BTF_MIRROR"); v != "" {
		cfg.BTF.HubMirror = v
	}
	return cfg
}

// Validate ensures eBPF configuration values make sense for the running kernel
func (c EBPFConfig) Validate() error {
	switch c.AttachMode {
	case AttachGeneric, AttachDriver, AttachOffload:
	default:
		return fmt.Errorf("invalid attach mode: %s (must be generic, driver or offload)", c.AttachMode)
	}

	// The kernel requires ring buffer sizes to be a power of two and page aligned.
	if c.RingBufferSize != 0 {
		if c.RingBufferSize&(c.RingBufferSize-1) != 0 {
			return fmt.Errorf("ring buffer size must be a power of two, got: %d", c.RingBufferSize)
		}
		if c.RingBufferSize < 4096 {
			return fmt.Errorf("ring buffer size must be at least one page, got: %d", c.RingBufferSize)
		}
	}
	return nil
}

func parseBool(v string) bool {
	return v == "1" || v == "true" || v == "TRUE"
}
