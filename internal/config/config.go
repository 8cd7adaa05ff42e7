package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultWait         = 1200 * time.Second
	defaultProbeTimeout = 10 * time.Second
	defaultDNSTTL       = 300
	defaultFeature      = "XPS-Viewer"
	defaultLogLevel     = "info"
	defaultLogEnv       = "prod"
)

// ErrInvalid marks configuration errors that must abort the run before any
// fixture is created.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Wait         time.Duration `yaml:"wait"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
	HistoryPath  string        `yaml:"historyPath"`
	MetricsAddr  string        `yaml:"metricsAddr"`
	Log          Log           `yaml:"log"`
	Directory    Directory     `yaml:"directory"`
	Fixtures     Fixtures      `yaml:"fixtures"`
	DNS          DNS           `yaml:"dns"`
	Report       Report        `yaml:"report"`
}

type Directory struct {
	BaseDN   string   `yaml:"baseDn"`
	Primary  string   `yaml:"primary"`
	BindUser string   `yaml:"bindUser"`
	BindPass string   `yaml:"bindPass"`
	Nodes    []string `yaml:"nodes"`
}

type Fixtures struct {
	OU       string `yaml:"ou"`
	Group    string `yaml:"group"`
	Computer string `yaml:"computer"`
	Policy   string `yaml:"policy"`
	Feature  string `yaml:"feature"`
}

type DNS struct {
	Host string `yaml:"host"`
	IP   string `yaml:"ip"`
	Zone string `yaml:"zone"`
	TTL  int    `yaml:"ttl"`
}

type Report struct {
	To       string `yaml:"to"`
	From     string `yaml:"from"`
	Endpoint string `yaml:"endpoint"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

func Load(path string) (*Config, error) {
	configFile := true
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Wait == 0 {
		cfg.Wait = defaultWait
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.DNS.TTL == 0 {
		cfg.DNS.TTL = defaultDNSTTL
	}
	if cfg.Fixtures.Feature == "" {
		cfg.Fixtures.Feature = defaultFeature
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("ADCONVERGE_BASE_DN"); v != "" {
		cfg.Directory.BaseDN = v
	}
	if v := os.Getenv("ADCONVERGE_PRIMARY"); v != "" {
		cfg.Directory.Primary = v
	}
	if v := os.Getenv("ADCONVERGE_BIND_USER"); v != "" {
		cfg.Directory.BindUser = v
	}
	if v := os.Getenv("ADCONVERGE_BIND_PASS"); v != "" {
		cfg.Directory.BindPass = v
	}
	if v := os.Getenv("ADCONVERGE_NODES"); v != "" {
		cfg.Directory.Nodes = strings.Split(v, ",")
	}
	if v := os.Getenv("ADCONVERGE_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Wait = d
		} else {
			slog.Default().Warn("fail parse wait to duration from string", "wait", v, "error", err)
		}
	}
	if v := os.Getenv("ADCONVERGE_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProbeTimeout = d
		} else {
			slog.Default().Warn("fail parse probe timeout to duration from string", "timeout", v, "error", err)
		}
	}
	if v := os.Getenv("ADCONVERGE_HISTORY_PATH"); v != "" {
		cfg.HistoryPath = v
	}
	if v := os.Getenv("ADCONVERGE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("ADCONVERGE_REPORT_TO"); v != "" {
		cfg.Report.To = v
	}
	if v := os.Getenv("ADCONVERGE_REPORT_FROM"); v != "" {
		cfg.Report.From = v
	}
	if v := os.Getenv("ADCONVERGE_REPORT_ENDPOINT"); v != "" {
		cfg.Report.Endpoint = v
	}
	if v := os.Getenv("ADCONVERGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ADCONVERGE_LOG_ENV"); v != "" {
		cfg.Log.Env = v
	}
}

// Validate checks the options that must be present before a run can start.
// Fixture identities are validated by the catalog, which knows which kinds
// are in scope.
func (cfg *Config) Validate() error {
	if cfg.Directory.BaseDN == "" {
		return fmt.Errorf("%w: directory.baseDn required", ErrInvalid)
	}
	if cfg.Directory.Primary == "" {
		return fmt.Errorf("%w: directory.primary required", ErrInvalid)
	}
	if cfg.Wait < 0 {
		return fmt.Errorf("%w: wait must not be negative", ErrInvalid)
	}
	return nil
}

// DNSConfigured reports whether the DNS fixture options are present. Absence
// is a valid state that narrows the run's scope, not an error.
func (cfg *Config) DNSConfigured() bool {
	return cfg.DNS.Zone != "" && cfg.DNS.Host != "" && cfg.DNS.IP != ""
}
