package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Health struct {
		FailureThreshold uint8  `json:"failure_threshold"`
		CheckTimeout     uint32 `json:"check_timeout_seconds"`
		RecheckWindow    uint32 `json:"recheck_window_hours"`
		SampleFraction   float64 `json:"sample_fraction"`
		SampleMin        int    `json:"sample_min"`
		SampleMax        int    `json:"sample_max"`
		NightlyTimer     Timer  `json:"nightly_timer"`
	} `json:"health"`

	Sync struct {
		FetchTimeout uint32 `json:"fetch_timeout_seconds"`
		Workers      int    `json:"workers"`
		SyncTimer    Timer  `json:"sync_timer"`
	} `json:"sync"`

	Metering struct {
		RollupTimer Timer `json:"rollup_timer"`
	} `json:"metering"`

	Endpoints struct {
		IPInfoURL     string `json:"ip_info_url"`
		TaskRunnerURL string `json:"task_runner_url"`
		BillingURL    string `json:"billing_url"`
	} `json:"endpoints"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	cfg, err := parseConfig(defaultConfig)
	if err != nil {
		cfg = Config{}
	}
	configValue.Store(cfg)
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	newConfig, err := parseConfig(data)
	if err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	applyConfigUpdate(newConfig, false)
	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	applyConfigUpdate(newConfig, true)
}

func parseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyConfigUpdate(newConfig Config, persistToFile bool) {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	refreshIntervals()

	if !persistToFile {
		return
	}

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		log.Error("Error marshalling new configuration:", err)
		return
	}
	if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
		log.Error("Error writing new configuration to file:", err)
	}
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
