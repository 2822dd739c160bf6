package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fxnlabs/ocland/internal/cl"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the control port of the daemon. The callback stream listens
// on DefaultPort+1.
const DefaultPort = 51000

type Config struct {
	Server struct {
		ListenAddress string `yaml:"listenAddress"`
		Port          int    `yaml:"port"`
		MaxClients    int    `yaml:"maxClients"`
		Backend       string `yaml:"backend"`
		Sim           struct {
			PlatformName  string `yaml:"platformName"`
			CPUDevices    int    `yaml:"cpuDevices"`
			GPUDevices    int    `yaml:"gpuDevices"`
			ComputeUnits  uint32 `yaml:"computeUnits"`
			GlobalMemSize uint64 `yaml:"globalMemSize"`
			LocalMemSize  uint64 `yaml:"localMemSize"`
		} `yaml:"sim"`
		Capacities map[string]int `yaml:"capacities"`
	} `yaml:"server"`
	Client struct {
		ServerList  string         `yaml:"serverList"`
		DialTimeout time.Duration  `yaml:"dialTimeout"`
		Capacities  map[string]int `yaml:"capacities"`
	} `yaml:"client"`
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		File      string `yaml:"file"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
	Transfer struct {
		AcceptTimeout   time.Duration `yaml:"acceptTimeout"`
		RetryInterval   time.Duration `yaml:"retryInterval"`
		MaxLength       uint64        `yaml:"maxLength"`
		Compression     *bool         `yaml:"compression"`
		MinCompressSize int           `yaml:"minCompressSize"`
	} `yaml:"transfer"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MaxClients == 0 {
		c.Server.MaxClients = 32
	}
	if c.Server.Backend == "" {
		c.Server.Backend = "sim"
	}
	if c.Client.ServerList == "" {
		c.Client.ServerList = DefaultServerList
	}
	if c.Client.DialTimeout == 0 {
		c.Client.DialTimeout = 10 * time.Second
	}
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = "info"
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9100"
	}
	if c.Transfer.AcceptTimeout == 0 {
		c.Transfer.AcceptTimeout = 30 * time.Second
	}
	if c.Transfer.RetryInterval == 0 {
		c.Transfer.RetryInterval = 10 * time.Millisecond
	}
	if c.Transfer.MaxLength == 0 {
		c.Transfer.MaxLength = 1 << 30
	}
	if c.Transfer.Compression == nil {
		on := true
		c.Transfer.Compression = &on
	}
	if c.Transfer.MinCompressSize == 0 {
		c.Transfer.MinCompressSize = 4096
	}
}

// CompressionEnabled reports whether bulk payloads go through the LZ4 codec.
func (c *Config) CompressionEnabled() bool {
	return c.Transfer.Compression == nil || *c.Transfer.Compression
}

// Capacities converts a capacities section keyed by object kind name
// ("mem", "event", ...) into per-kind table sizes.
func Capacities(m map[string]int) (map[cl.Kind]int, error) {
	out := make(map[cl.Kind]int, len(m))
	for name, n := range m {
		k, ok := cl.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown object kind %q in capacities", name)
		}
		if n <= 0 {
			return nil, fmt.Errorf("capacity for %s must be positive, got %d", name, n)
		}
		out[k] = n
	}
	return out, nil
}
