package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel     string          `json:"log_level" yaml:"log_level"`
	LogFile      string          `json:"log_file" yaml:"log_file"`
	TriggersFile string          `json:"triggers_file" yaml:"triggers_file"`
	Ingest       IngestConfig    `json:"ingest" yaml:"ingest"`
	Retention    RetentionConfig `json:"retention" yaml:"retention"`
	API          APIConfig       `json:"api" yaml:"api"`
	Storage      StorageConfig   `json:"storage" yaml:"storage"`
	Actions      ActionsConfig   `json:"actions" yaml:"actions"`
}

type IngestConfig struct {
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	StoreEvents   bool          `json:"store_events" yaml:"store_events"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// RetentionConfig bounds how long records are kept. Hours <= 0 keeps records forever.
type RetentionConfig struct {
	AlertsHours   int           `json:"alerts_hours" yaml:"alerts_hours"`
	EventsHours   int           `json:"events_hours" yaml:"events_hours"`
	ThinAlerts    bool          `json:"thin_alerts" yaml:"thin_alerts"`
	PurgeInterval time.Duration `json:"purge_interval" yaml:"purge_interval"`
}

func (r RetentionConfig) AlertsTTL() time.Duration {
	return hoursTTL(r.AlertsHours)
}

func (r RetentionConfig) EventsTTL() time.Duration {
	return hoursTTL(r.EventsHours)
}

func hoursTTL(hours int) time.Duration {
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

type APIConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Addr    string        `json:"addr" yaml:"addr"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	DSN    string      `json:"dsn" yaml:"dsn"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	Prefix       string        `json:"prefix" yaml:"prefix"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

type ActionsConfig struct {
	NATS NATSConfig `json:"nats" yaml:"nats"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			StoreEvents:   true,
			DedupeWindow:  1 * time.Second,
			Kafka:         KafkaConfig{Enabled: false, Topic: "platform.inventory.host-egress", GroupID: "alertcore"},
		},
		Retention: RetentionConfig{
			AlertsHours:   24 * 30,
			EventsHours:   24 * 30,
			PurgeInterval: 10 * time.Minute,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081", Timeout: 30 * time.Second},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:alertcore.db?_pragma=busy_timeout(5000)"},
		Actions: ActionsConfig{NATS: NATSConfig{Enabled: false, URL: "nats://localhost:4222", Subject: "alertcore.actions"}},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as JSON when path ends in .json, YAML otherwise.
func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "alertcore:"
	}
	if cfg.Storage.Redis.Timeout <= 0 {
		cfg.Storage.Redis.Timeout = 5 * time.Second
	}
	if cfg.Storage.Redis.PoolSize <= 0 {
		cfg.Storage.Redis.PoolSize = 10
	}
	if cfg.Retention.PurgeInterval <= 0 {
		cfg.Retention.PurgeInterval = 10 * time.Minute
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Actions.NATS.Subject == "" {
		cfg.Actions.NATS.Subject = "alertcore.actions"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.DedupeWindow < 0 {
		return fmt.Errorf("ingest.dedupe_window must be >= 0: %s", cfg.Ingest.DedupeWindow)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql":
	case "redis":
		if cfg.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr required when storage.driver is redis")
		}
	default:
		return fmt.Errorf("unsupported storage.driver: %s", cfg.Storage.Driver)
	}
	if cfg.Actions.NATS.Enabled && cfg.Actions.NATS.URL == "" {
		return errors.New("actions.nats.url required when actions.nats.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
