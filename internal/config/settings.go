package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"iptoasn/internal/support"
)

type Config struct {
	Dataset struct {
		URL                    string `json:"url"`
		CacheFile              string `json:"cache_file"`
		Proxy                  string `json:"proxy"`
		DownloadTimeoutSeconds uint32 `json:"download_timeout_seconds"`
		// RefreshTimer set to zero disables automatic refreshes.
		RefreshTimer Timer `json:"refresh_timer"`
	} `json:"dataset"`

	Server struct {
		Listen             string `json:"listen"`
		TrustProxyHeaders  bool   `json:"trust_proxy_headers"`
		MaxBulkAddresses   int    `json:"max_bulk_addresses"`
		CacheMaxAgeSeconds uint32 `json:"cache_max_age_seconds"`
	} `json:"server"`

	DNS struct {
		Listen     string `json:"listen"`
		Zone       string `json:"zone"`
		TTLSeconds uint32 `json:"ttl_seconds"`
	} `json:"dns"`

	History struct {
		Keep int `json:"keep"`
	} `json:"history"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex
)

func init() {
	cfg := DefaultConfig()
	configValue.Store(cfg)
	refreshInterval.Store(calculateRefreshInterval(cfg))
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic("config: embedded default settings are invalid: " + err.Error())
	}
	return cfg
}

func settingsFilePath() string {
	return support.GetEnv("SETTINGS_FILE", defaultSettingsFilePath)
}

// ReadSettings loads the settings file, creating it from the defaults when it
// does not exist, then applies environment overrides.
func ReadSettings() {
	path := settingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration", "path", path)

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				log.Error("Error creating directory for settings file", "error", err)
			} else if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
				log.Error("Error writing default settings file", "error", err)
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file", "error", err)
			data = defaultConfig
		}
	}

	newConfig := DefaultConfig()
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file, using defaults", "error", err)
		newConfig = DefaultConfig()
	}

	applyEnvOverrides(&newConfig)

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

func applyEnvOverrides(cfg *Config) {
	cfg.Dataset.URL = support.GetEnv("IPTOASN_DB_URL", cfg.Dataset.URL)
	cfg.Dataset.CacheFile = support.GetEnv("IPTOASN_CACHE_FILE", cfg.Dataset.CacheFile)
	cfg.Dataset.Proxy = support.GetEnv("IPTOASN_PROXY", cfg.Dataset.Proxy)
	cfg.Server.Listen = support.GetEnv("IPTOASN_LISTEN", cfg.Server.Listen)
	cfg.DNS.Listen = support.GetEnv("IPTOASN_DNS_LISTEN", cfg.DNS.Listen)
	cfg.DNS.Zone = support.GetEnv("IPTOASN_DNS_ZONE", cfg.DNS.Zone)

	if raw, ok := os.LookupEnv("IPTOASN_REFRESH_MINUTES"); ok {
		minutes, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			log.Warn("invalid refresh override", "env", "IPTOASN_REFRESH_MINUTES", "value", raw)
		} else {
			cfg.Dataset.RefreshTimer = Timer{Minutes: uint32(minutes)}
		}
	}

	if raw, ok := os.LookupEnv("IPTOASN_TRUST_PROXY_HEADERS"); ok {
		cfg.Server.TrustProxyHeaders = strings.EqualFold(raw, "true") || raw == "1"
	}
}

// SetConfig replaces the configuration, persists it and broadcasts it to
// other instances when Redis synchronization is enabled.
func SetConfig(newConfig Config) error {
	return applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"})
}

// Override applies a change that only lives in this process, such as
// command-line flags.
func Override(updater func(cfg *Config)) {
	if updater == nil {
		return
	}
	cfg := GetConfig()
	updater(&cfg)
	if err := applyConfigUpdate(cfg, configUpdateOptions{source: "override"}); err != nil {
		log.Error("Error applying configuration override", "error", err)
	}
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration", "error", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath(), data, 0o644); err != nil {
			log.Error("Error writing new configuration to file", "error", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		if err := publishConfig(newConfig); err != nil {
			log.Error("Error broadcasting configuration update", "error", err)
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}
