package config

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ROCKSCOPE_SERVER_PORT.
const EnvPrefix = "ROCKSCOPE"

// Config holds every tunable of the analyzer, its renderers and the server.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis" json:"analysis"`
	Hotspots HotspotConfig  `mapstructure:"hotspots" yaml:"hotspots" json:"hotspots"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render" json:"render"`
	Diff     DiffConfig     `mapstructure:"diff" yaml:"diff" json:"diff"`
}

type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level" json:"level"`
	Encoding string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host" json:"host"`
	Port           int           `mapstructure:"port" yaml:"port" json:"port"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" json:"max_upload_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	CacheSize      uint64        `mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AnalysisConfig sets the time-share thresholds of the execution tree.
type AnalysisConfig struct {
	MostConsumingPercent   float64 `mapstructure:"most_consuming_percent" yaml:"most_consuming_percent" json:"most_consuming_percent"`
	SecondConsumingPercent float64 `mapstructure:"second_consuming_percent" yaml:"second_consuming_percent" json:"second_consuming_percent"`
	MetricConsumingRatio   float64 `mapstructure:"metric_consuming_ratio" yaml:"metric_consuming_ratio" json:"metric_consuming_ratio"`
	TopNodes               int     `mapstructure:"top_nodes" yaml:"top_nodes" json:"top_nodes"`
}

// HotspotConfig holds the thresholds of every hotspot rule.
type HotspotConfig struct {
	LongRunning time.Duration `mapstructure:"long_running" yaml:"long_running" json:"long_running"`

	NodeHighLatency     time.Duration `mapstructure:"node_high_latency" yaml:"node_high_latency" json:"node_high_latency"`
	NodeSevereLatency   time.Duration `mapstructure:"node_severe_latency" yaml:"node_severe_latency" json:"node_severe_latency"`
	NodeCriticalLatency time.Duration `mapstructure:"node_critical_latency" yaml:"node_critical_latency" json:"node_critical_latency"`
	IORatioSevere       float64       `mapstructure:"io_ratio_severe" yaml:"io_ratio_severe" json:"io_ratio_severe"`
	IORatioCritical     float64       `mapstructure:"io_ratio_critical" yaml:"io_ratio_critical" json:"io_ratio_critical"`
	NodeOutputBytes     uint64        `mapstructure:"node_output_bytes" yaml:"node_output_bytes" json:"node_output_bytes"`

	NodeMemoryLimitBytes uint64  `mapstructure:"node_memory_limit_bytes" yaml:"node_memory_limit_bytes" json:"node_memory_limit_bytes"`
	MemoryUsagePercent   float64 `mapstructure:"memory_usage_percent" yaml:"memory_usage_percent" json:"memory_usage_percent"`
	SpillBytes           uint64  `mapstructure:"spill_bytes" yaml:"spill_bytes" json:"spill_bytes"`

	OperatorTime        time.Duration `mapstructure:"operator_time" yaml:"operator_time" json:"operator_time"`
	OperatorMemoryBytes uint64        `mapstructure:"operator_memory_bytes" yaml:"operator_memory_bytes" json:"operator_memory_bytes"`
	OperatorOutputBytes uint64        `mapstructure:"operator_output_bytes" yaml:"operator_output_bytes" json:"operator_output_bytes"`

	SegmentIterSevere   time.Duration `mapstructure:"segment_iter_severe" yaml:"segment_iter_severe" json:"segment_iter_severe"`
	SegmentIterCritical time.Duration `mapstructure:"segment_iter_critical" yaml:"segment_iter_critical" json:"segment_iter_critical"`
	SegmentsModerate    uint64        `mapstructure:"segments_moderate" yaml:"segments_moderate" json:"segments_moderate"`
	SegmentsSevere      uint64        `mapstructure:"segments_severe" yaml:"segments_severe" json:"segments_severe"`
	SegmentsCritical    uint64        `mapstructure:"segments_critical" yaml:"segments_critical" json:"segments_critical"`
	RemoteIOScanRatio   float64       `mapstructure:"remote_io_scan_ratio" yaml:"remote_io_scan_ratio" json:"remote_io_scan_ratio"`
	ScanSevere          time.Duration `mapstructure:"scan_severe" yaml:"scan_severe" json:"scan_severe"`
	ScanCritical        time.Duration `mapstructure:"scan_critical" yaml:"scan_critical" json:"scan_critical"`
	IOTimeSevere        time.Duration `mapstructure:"io_time_severe" yaml:"io_time_severe" json:"io_time_severe"`
	RemoteIOMultiplier  uint64        `mapstructure:"remote_io_multiplier" yaml:"remote_io_multiplier" json:"remote_io_multiplier"`
	RawRowsModerate     uint64        `mapstructure:"raw_rows_moderate" yaml:"raw_rows_moderate" json:"raw_rows_moderate"`
	RawRowsHigh         uint64        `mapstructure:"raw_rows_high" yaml:"raw_rows_high" json:"raw_rows_high"`
	ScanQueueModerate   uint64        `mapstructure:"scan_queue_moderate" yaml:"scan_queue_moderate" json:"scan_queue_moderate"`
	ScanQueueSevere     uint64        `mapstructure:"scan_queue_severe" yaml:"scan_queue_severe" json:"scan_queue_severe"`

	JoinSkewFactor    uint64  `mapstructure:"join_skew_factor" yaml:"join_skew_factor" json:"join_skew_factor"`
	JoinBytesPerRow   uint64  `mapstructure:"join_bytes_per_row" yaml:"join_bytes_per_row" json:"join_bytes_per_row"`
	MinAggregateRatio float64 `mapstructure:"min_aggregate_ratio" yaml:"min_aggregate_ratio" json:"min_aggregate_ratio"`
}

// RenderConfig tunes the terminal and HTML reports.
type RenderConfig struct {
	BarWidth int `mapstructure:"bar_width" yaml:"bar_width" json:"bar_width"`
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth" json:"max_depth"`
}

// DiffConfig defines thresholds for diff summaries.
type DiffConfig struct {
	MinDeltaPercent  float64       `mapstructure:"min_delta_percent" yaml:"min_delta_percent" json:"min_delta_percent"`
	MinDeltaTime     time.Duration `mapstructure:"min_delta_time" yaml:"min_delta_time" json:"min_delta_time"`
	MinPercentChange float64       `mapstructure:"min_percent_change" yaml:"min_percent_change" json:"min_percent_change"`
	MaxItems         int           `mapstructure:"max_items" yaml:"max_items" json:"max_items"`
	CriticalDelta    float64       `mapstructure:"critical_delta_percent" yaml:"critical_delta_percent" json:"critical_delta_percent"`
	WarningDelta     float64       `mapstructure:"warning_delta_percent" yaml:"warning_delta_percent" json:"warning_delta_percent"`
}

var (
	mu     sync.RWMutex
	active = Default()
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3030,
			MaxUploadBytes: 50 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			CacheSize:      256,
			CacheTTL:       10 * time.Minute,
		},
		Analysis: AnalysisConfig{
			MostConsumingPercent:   30,
			SecondConsumingPercent: 15,
			MetricConsumingRatio:   0.3,
			TopNodes:               3,
		},
		Hotspots: HotspotConfig{
			LongRunning:          time.Hour,
			NodeHighLatency:      10 * time.Second,
			NodeSevereLatency:    time.Minute,
			NodeCriticalLatency:  5 * time.Minute,
			IORatioSevere:        0.8,
			IORatioCritical:      0.95,
			NodeOutputBytes:      100 << 20,
			NodeMemoryLimitBytes: 12 << 30,
			MemoryUsagePercent:   80,
			SpillBytes:           1 << 30,
			OperatorTime:         5 * time.Minute,
			OperatorMemoryBytes:  1 << 30,
			OperatorOutputBytes:  10 << 30,
			SegmentIterSevere:    5 * time.Minute,
			SegmentIterCritical:  30 * time.Minute,
			SegmentsModerate:     10000,
			SegmentsSevere:       50000,
			SegmentsCritical:     100000,
			RemoteIOScanRatio:    0.8,
			ScanSevere:           30 * time.Minute,
			ScanCritical:         time.Hour,
			IOTimeSevere:         20 * time.Minute,
			RemoteIOMultiplier:   10,
			RawRowsModerate:      10000,
			RawRowsHigh:          100000,
			ScanQueueModerate:    20,
			ScanQueueSevere:      50,
			JoinSkewFactor:       100,
			JoinBytesPerRow:      100,
			MinAggregateRatio:    2,
		},
		Render: RenderConfig{
			BarWidth: 20,
			MaxDepth: 0,
		},
		Diff: DiffConfig{
			MinDeltaPercent:  1.0,
			MinDeltaTime:     time.Millisecond,
			MinPercentChange: 5.0,
			MaxItems:         8,
			CriticalDelta:    20.0,
			WarningDelta:     5.0,
		},
	}
}

// Active returns the currently applied configuration.
func Active() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Use replaces the active configuration.
func Use(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
}

// Load reads configuration from path (YAML or JSON) on top of the defaults
// and applies ROCKSCOPE_* environment overrides. An empty path reads the
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Apply loads configuration from path and makes it active. Empty path resets
// to the defaults plus environment overrides.
func Apply(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Use(cfg)
	return nil
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var err error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		err = multierr.Append(err, errors.New("server.max_upload_bytes must be positive"))
	}
	if c.Analysis.SecondConsumingPercent > c.Analysis.MostConsumingPercent {
		err = multierr.Append(err, errors.New("analysis.second_consuming_percent must not exceed most_consuming_percent"))
	}
	if c.Analysis.MetricConsumingRatio <= 0 || c.Analysis.MetricConsumingRatio > 1 {
		err = multierr.Append(err, errors.New("analysis.metric_consuming_ratio must be in (0, 1]"))
	}
	if c.Analysis.TopNodes <= 0 {
		err = multierr.Append(err, errors.New("analysis.top_nodes must be positive"))
	}
	h := c.Hotspots
	if !(h.NodeHighLatency <= h.NodeSevereLatency && h.NodeSevereLatency <= h.NodeCriticalLatency) {
		err = multierr.Append(err, errors.New("hotspots: node latency thresholds must be ascending"))
	}
	if h.IORatioSevere > h.IORatioCritical {
		err = multierr.Append(err, errors.New("hotspots.io_ratio_severe must not exceed io_ratio_critical"))
	}
	if h.NodeMemoryLimitBytes == 0 {
		err = multierr.Append(err, errors.New("hotspots.node_memory_limit_bytes must be positive"))
	}
	if c.Render.BarWidth <= 0 {
		err = multierr.Append(err, errors.New("render.bar_width must be positive"))
	}
	if c.Diff.MaxItems < 0 {
		err = multierr.Append(err, errors.New("diff.max_items must not be negative"))
	}
	return err
}

// Write dumps cfg as YAML.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// bindEnvs registers every key of cfg so that viper consults the matching
// environment variable when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := val.Type()
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
