// Package config loads and validates Percas's process configuration: a TOML
// file overridden by PERCAS_CONFIG_* environment variables, covering the
// server's listen/advertise addresses, storage budgets and throttles, and
// telemetry settings.
package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Config is the root of Percas's configuration tree.
type Config struct {
	Server    Server    `toml:"server"`
	Storage   Storage   `toml:"storage"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Server configures the node's identity, listeners, and cluster bootstrap.
type Server struct {
	Dir                string   `toml:"dir"`
	ListenDataAddr     string   `toml:"listen_data_addr"`
	AdvertiseDataAddr  string   `toml:"advertise_data_addr"`
	ListenCtrlAddr     string   `toml:"listen_ctrl_addr"`
	AdvertiseCtrlAddr  string   `toml:"advertise_ctrl_addr"`
	InitialPeers       []string `toml:"initial_peers"`
	ClusterID          string   `toml:"cluster_id"`
}

// Storage configures the cache engine's capacities and disk throttle.
type Storage struct {
	DataDir         string        `toml:"data_dir"`
	DiskCapacity    int64         `toml:"disk_capacity"`
	MemoryCapacity  int64         `toml:"memory_capacity"`
	DiskThrottle    DiskThrottle  `toml:"disk_throttle"`
}

// DiskThrottle configures the disk tier's IOPS and throughput limiters.
type DiskThrottle struct {
	WriteIOPS       float64     `toml:"write_iops"`
	ReadIOPS        float64     `toml:"read_iops"`
	WriteThroughput float64     `toml:"write_throughput"`
	ReadThroughput  float64     `toml:"read_throughput"`
	IOPSCounter     IOPSCounter `toml:"iops_counter"`
}

// IOPSCounter configures how the throttle counts one I/O operation.
type IOPSCounter struct {
	Mode string `toml:"mode"`
	Size int64  `toml:"size"`
}

// Telemetry holds the logs/traces/metrics sections. Only Logs is read by
// cmd/percas; the Traces and Metrics sections are parsed but nothing acts on
// them, so leaving them empty or disabled does not turn any pipeline off.
type Telemetry struct {
	Logs    LogsConfig    `toml:"logs"`
	Traces  TracesConfig  `toml:"traces"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LogsConfig configures the logging pipeline.
type LogsConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// TracesConfig holds trace exporter settings. No trace exporter reads them.
type TracesConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// MetricsConfig holds metrics settings. Metrics are registered whether or
// not Enabled is set, and no metrics endpoint is served.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// defaultClusterID is used when server.cluster_id is absent.
const defaultClusterID = "percas-cluster"

// Load reads and parses a TOML config file at path, applies
// PERCAS_CONFIG_* environment overrides, fills in defaults, and resolves
// advertise addresses left blank in favor of the listen address.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	applyDefaults(&cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ClusterID == "" {
		cfg.Server.ClusterID = defaultClusterID
	}
	if cfg.Server.AdvertiseDataAddr == "" {
		cfg.Server.AdvertiseDataAddr = resolveAdvertiseAddr(cfg.Server.ListenDataAddr)
	}
	if cfg.Server.AdvertiseCtrlAddr == "" {
		cfg.Server.AdvertiseCtrlAddr = resolveAdvertiseAddr(cfg.Server.ListenCtrlAddr)
	}
	if cfg.Telemetry.Logs.Level == "" {
		cfg.Telemetry.Logs.Level = "info"
	}
}

// resolveAdvertiseAddr substitutes a concrete local address for a wildcard
// listen address (0.0.0.0:port), since a wildcard is meaningless to
// advertise to peers.
func resolveAdvertiseAddr(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		return listenAddr
	}

	ip := firstNonLoopbackIP()
	if ip == "" {
		return listenAddr
	}
	return net.JoinHostPort(ip, port)
}

func firstNonLoopbackIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// WarnIfNotGlobal logs a warning (never fails startup) when advertiseAddr's
// host is not a globally routable IP. The reference implementation asserts
// this and panics; Percas downgrades the check to a warning so that
// single-host or NAT'd deployments still start.
func WarnIfNotGlobal(log zerolog.Logger, label, advertiseAddr string) {
	host, _, err := net.SplitHostPort(advertiseAddr)
	if err != nil {
		return
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return
	}
	if isGlobalUnicast(ip) {
		return
	}
	log.Warn().Str("addr", advertiseAddr).Str("field", label).
		Msg("advertise address is not globally routable")
}

func isGlobalUnicast(ip net.IP) bool {
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast()
}

// applyEnvOverrides walks cfg's struct tree and, for every leaf field,
// checks for an environment variable named PERCAS_CONFIG_<PATH>, where PATH
// is the dotted toml tag path upper-cased and joined with underscores (e.g.
// "storage.memory_capacity" -> PERCAS_CONFIG_STORAGE_MEMORY_CAPACITY).
func applyEnvOverrides(cfg *Config) error {
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}
	return walkAndOverride(reflect.ValueOf(cfg).Elem(), nil, env)
}

func walkAndOverride(v reflect.Value, path []string, env map[string]string) error {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			tag := field.Tag.Get("toml")
			name, _, _ := strings.Cut(tag, ",")
			if name == "" {
				name = strings.ToLower(field.Name)
			}
			if err := walkAndOverride(v.Field(i), append(path, name), env); err != nil {
				return err
			}
		}
		return nil
	default:
		key := "PERCAS_CONFIG_" + strings.ToUpper(strings.Join(path, "_"))
		raw, ok := env[key]
		if !ok {
			return nil
		}
		return setScalar(v, raw, key)
	}
}

func setScalar(v reflect.Value, raw, key string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetFloat(f)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return nil
		}
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(strings.TrimSpace(p))
		}
		v.Set(out)
	}
	return nil
}
