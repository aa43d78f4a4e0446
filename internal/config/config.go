/*******************************************************************************
* Copyright (C) 2026 the Eclipse BaSyx Authors and Fraunhofer IESE
*
* Permission is hereby granted, free of charge, to any person obtaining
* a copy of this software and associated documentation files (the
* "Software"), to deal in the Software without restriction, including
* without limitation the rights to use, copy, modify, merge, publish,
* distribute, sublicense, and/or sell copies of the Software, and to
* permit persons to whom the Software is furnished to do so, subject to
* the following conditions:
*
* The above copyright notice and this permission notice shall be
* included in all copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
* EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
* MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
* NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE
* LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION
* OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION
* WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*
* SPDX-License-Identifier: MIT
******************************************************************************/

// Package config loads the bridge daemon's single hierarchical
// configuration document. It mirrors the teacher's viper-based
// LoadConfig/setDefaults pattern, extended to the option groups named in
// spec.md §6: broker, retained plane, lifecycle plane, file watcher,
// repository client, state, observability, semantic, hypervisor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// PointerMode selects how retained-plane payloads reference metadata.
type PointerMode string

const (
	PointerModeInline PointerMode = "inline"
	PointerModePtr    PointerMode = "pointer"
	PointerModeHybrid PointerMode = "hybrid"
)

// Severity is one of the four alert severities the hypervisor emits.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Config is the root of the hierarchical configuration document.
type Config struct {
	Broker      BrokerConfig      `mapstructure:"broker"`
	Retained    RetainedConfig    `mapstructure:"retained"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	FileWatcher FileWatcherConfig `mapstructure:"fileWatcher"`
	Repository  RepositoryConfig  `mapstructure:"repository"`
	State       StateConfig       `mapstructure:"state"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Semantic    SemanticConfig    `mapstructure:"semantic"`
	Hypervisor  HypervisorConfig  `mapstructure:"hypervisor"`
	Mapping     MappingConfig     `mapstructure:"mapping"`
}

// BrokerConfig configures the MQTT/Sparkplug transport.
type BrokerConfig struct {
	URL               string        `mapstructure:"url"`
	ClientID          string        `mapstructure:"clientId"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	GroupID           string        `mapstructure:"groupId"`
	EdgeNodeID        string        `mapstructure:"edgeNodeId"`
	QoS               byte          `mapstructure:"qos"`
	ReconnectDelayMin time.Duration `mapstructure:"reconnectDelayMin"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnectDelayMax"`
}

// RetainedConfig configures the retained-state plane.
type RetainedConfig struct {
	TopicPrefix string      `mapstructure:"topicPrefix"`
	PointerMode PointerMode `mapstructure:"pointerMode"`
	Dictionary  string      `mapstructure:"dictionary"`
	Enriched    bool        `mapstructure:"enriched"`
	QoS         byte        `mapstructure:"qos"`
}

// LifecycleConfig configures the birth/death lifecycle plane.
type LifecycleConfig struct {
	StaleThreshold time.Duration `mapstructure:"staleThreshold"`
}

// FileWatcherConfig configures the (externally owned) filesystem ingress.
type FileWatcherConfig struct {
	WatchDir string `mapstructure:"watchDir"`
}

// RepositoryConfig configures the (externally owned) REST-polling ingress
// and the bidirectional command write-back client.
type RepositoryConfig struct {
	BaseURL        string        `mapstructure:"baseUrl"`
	PollInterval   time.Duration `mapstructure:"pollInterval"`
	CallTimeout    time.Duration `mapstructure:"callTimeout"`
	WriteRetries   int           `mapstructure:"writeRetries"`
	WriteRetryWait time.Duration `mapstructure:"writeRetryWait"`
}

// StateConfig configures the embedded persistence layer.
type StateConfig struct {
	Dir             string `mapstructure:"dir"`
	MaxAliasEntries int    `mapstructure:"maxAliasEntries"`
	MaxHashEntries  int    `mapstructure:"maxHashEntries"`
	MaxContextEntries int  `mapstructure:"maxContextEntries"`
	MaxFidelityEntries int `mapstructure:"maxFidelityEntries"`
	SchemaVersion   int    `mapstructure:"schemaVersion"`
}

// ObservabilityConfig configures the health/metrics HTTP surface.
type ObservabilityConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
}

// SemanticConfig configures §4.6.1 validation.
type SemanticConfig struct {
	Level              int      `mapstructure:"level"`
	EnforceSemanticIDs bool     `mapstructure:"enforceSemanticIds"`
	RequiredForTypes   []string `mapstructure:"requiredForTypes"`
	RejectInvalid      bool     `mapstructure:"rejectInvalid"`
}

// HypervisorConfig configures §4.6.3-§4.6.7.
type HypervisorConfig struct {
	ClearRetainedOnOffline bool                `mapstructure:"clearRetainedOnOffline"`
	AllowedWritePatterns   []string            `mapstructure:"allowedWritePatterns"`
	DeniedWritePatterns    []string            `mapstructure:"deniedWritePatterns"`
	PreWriteValidation     bool                `mapstructure:"preWriteValidation"`
	DriftSeverity          DriftSeverityConfig `mapstructure:"driftSeverity"`
	FidelityWeights        FidelityWeights     `mapstructure:"fidelityWeights"`
	FidelityAlertThreshold float64             `mapstructure:"fidelityAlertThreshold"`
	AnomalyThresholds      AnomalyThresholds   `mapstructure:"anomalyThresholds"`
}

// DriftSeverityConfig maps each drift event kind to a severity. Defaults
// follow spec.md §9's suggested default: metric_removed=high,
// type_changed=medium, metric_added=low.
type DriftSeverityConfig struct {
	MetricAdded   Severity `mapstructure:"metricAdded"`
	MetricRemoved Severity `mapstructure:"metricRemoved"`
	TypeChanged   Severity `mapstructure:"typeChanged"`
}

// FidelityWeights is the configured weighted mean for the three fidelity
// scores (§4.6.7). Weights need not sum to 1; hypervisor.FidelityScorer
// divides by their sum, and falls back to a plain mean when the sum is not
// positive.
type FidelityWeights struct {
	Structural float64 `mapstructure:"structural"`
	Semantic   float64 `mapstructure:"semantic"`
	Entropy    float64 `mapstructure:"entropy"`
}

// AnomalyThresholds configures streaming-drift severities by score.
type AnomalyThresholds struct {
	Low      float64 `mapstructure:"low"`
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

// MappingConfig configures asset-URI -> AssetAddress resolution (§4.2).
type MappingConfig struct {
	Enterprise string          `mapstructure:"enterprise"`
	Site       string          `mapstructure:"site"`
	Area       string          `mapstructure:"area"`
	Line       string          `mapstructure:"line"`
	Assets     map[string]AssetMappingEntry `mapstructure:"assets"`
	Patterns   []GlobMappingEntry           `mapstructure:"patterns"`
}

// AssetMappingEntry is an exact-match mapping table row.
type AssetMappingEntry struct {
	Enterprise string `mapstructure:"enterprise"`
	Site       string `mapstructure:"site"`
	Area       string `mapstructure:"area"`
	Line       string `mapstructure:"line"`
	Asset      string `mapstructure:"asset"`
}

// GlobMappingEntry is an ordered glob-pattern mapping table row.
type GlobMappingEntry struct {
	Pattern    string `mapstructure:"pattern"`
	Enterprise string `mapstructure:"enterprise"`
	Site       string `mapstructure:"site"`
	Area       string `mapstructure:"area"`
	Line       string `mapstructure:"line"`
	Asset      string `mapstructure:"asset"`
}

// Load reads the configuration from an optional file plus environment
// variables, rejecting unknown keys, per spec.md §6.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	decodeOpts := func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.WeaklyTypedInput = true
	}
	if err := v.Unmarshal(&cfg, decodeOpts); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.qos", 1)
	v.SetDefault("broker.reconnectDelayMin", 1*time.Second)
	v.SetDefault("broker.reconnectDelayMax", 60*time.Second)
	v.SetDefault("broker.edgeNodeId", "edge0")
	v.SetDefault("broker.groupId", "UNS")

	v.SetDefault("retained.pointerMode", string(PointerModeInline))
	v.SetDefault("retained.dictionary", "default")
	v.SetDefault("retained.qos", 1)

	v.SetDefault("lifecycle.staleThreshold", 60*time.Second)

	v.SetDefault("repository.pollInterval", 30*time.Second)
	v.SetDefault("repository.callTimeout", 30*time.Second)
	v.SetDefault("repository.writeRetries", 3)
	v.SetDefault("repository.writeRetryWait", 2*time.Second)

	v.SetDefault("state.dir", "./data")
	v.SetDefault("state.maxAliasEntries", 65536)
	v.SetDefault("state.maxHashEntries", 262144)
	v.SetDefault("state.maxContextEntries", 4096)
	v.SetDefault("state.maxFidelityEntries", 4096)
	v.SetDefault("state.schemaVersion", 1)

	v.SetDefault("observability.listenAddr", "0.0.0.0:8080")

	v.SetDefault("semantic.level", 0)
	v.SetDefault("semantic.rejectInvalid", false)

	v.SetDefault("hypervisor.clearRetainedOnOffline", false)
	v.SetDefault("hypervisor.preWriteValidation", true)
	v.SetDefault("hypervisor.driftSeverity.metricAdded", string(SeverityLow))
	v.SetDefault("hypervisor.driftSeverity.metricRemoved", string(SeverityHigh))
	v.SetDefault("hypervisor.driftSeverity.typeChanged", string(SeverityMedium))
	v.SetDefault("hypervisor.fidelityWeights.structural", 1.0)
	v.SetDefault("hypervisor.fidelityWeights.semantic", 1.0)
	v.SetDefault("hypervisor.fidelityWeights.entropy", 1.0)
	v.SetDefault("hypervisor.fidelityAlertThreshold", 0.8)
	v.SetDefault("hypervisor.anomalyThresholds.low", 0.5)
	v.SetDefault("hypervisor.anomalyThresholds.medium", 0.65)
	v.SetDefault("hypervisor.anomalyThresholds.high", 0.8)
	v.SetDefault("hypervisor.anomalyThresholds.critical", 0.9)

	v.SetDefault("mapping.enterprise", "Ent")
}

// Validate checks cross-field invariants the daemon depends on at startup.
// A configuration error here is fatal per spec.md §7 (exit code 2).
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Broker.ReconnectDelayMin <= 0 || c.Broker.ReconnectDelayMax < c.Broker.ReconnectDelayMin {
		return fmt.Errorf("broker.reconnectDelayMin/Max must satisfy 0 < min <= max")
	}
	switch c.Retained.PointerMode {
	case PointerModeInline, PointerModePtr, PointerModeHybrid:
	default:
		return fmt.Errorf("retained.pointerMode must be one of inline, pointer, hybrid, got %q", c.Retained.PointerMode)
	}
	if c.Semantic.Level < 0 || c.Semantic.Level > 2 {
		return fmt.Errorf("semantic.level must be one of 0, 1, 2, got %d", c.Semantic.Level)
	}
	if c.State.MaxAliasEntries <= 0 || c.State.MaxHashEntries <= 0 {
		return fmt.Errorf("state.maxAliasEntries/maxHashEntries must be positive")
	}
	return nil
}

// Redacted returns a copy of c with credential fields masked, for logging.
func (c Config) Redacted() Config {
	cp := c
	if cp.Broker.Password != "" {
		cp.Broker.Password = "****"
	}
	if cp.Broker.Username != "" {
		cp.Broker.Username = "****"
	}
	return cp
}
