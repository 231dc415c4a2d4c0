// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - FastPass 端点可靠性引擎的配置加载、默认值与校验
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	SendTimeoutNs  int64  `yaml:"send_timeout_ns"`
	ResetWindowNs  int64  `yaml:"reset_window_ns"`
	WindowLen      uint32 `yaml:"window_len"`
	PeerAddr       string `yaml:"peer_addr"`
	PeerPort       int    `yaml:"peer_port"`
	LogLevel       string `yaml:"log_level"`
	DedupCacheSize int    `yaml:"dedup_cache_size"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置，对应内核模块原有的硬编码常量
// 加上独立守护进程所需的外围默认值。
func DefaultConfig() *Config {
	return &Config{
		SendTimeoutNs:  int64(10 * time.Millisecond),
		ResetWindowNs:  int64(2 * time.Second),
		WindowLen:      256,
		PeerPort:       1,
		LogLevel:       "info",
		DedupCacheSize: 20000,

		Metrics: MetricsConfig{
			Enabled:     true,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.SendTimeoutNs <= 0 {
		return fmt.Errorf("send_timeout_ns 必须为正数")
	}
	if c.ResetWindowNs <= 0 {
		return fmt.Errorf("reset_window_ns 必须为正数")
	}
	if c.WindowLen == 0 || c.WindowLen&(c.WindowLen-1) != 0 {
		return fmt.Errorf("window_len 必须是 2 的幂，当前为 %d", c.WindowLen)
	}
	if c.PeerAddr == "" {
		return fmt.Errorf("peer_addr 不能为空")
	}
	if net.ParseIP(c.PeerAddr) == nil {
		if _, err := net.LookupHost(c.PeerAddr); err != nil {
			return fmt.Errorf("peer_addr %q 既不是合法 IP 也无法解析: %w", c.PeerAddr, err)
		}
	}
	if c.PeerPort < 1 || c.PeerPort > 65535 {
		return fmt.Errorf("peer_port 需在 1-65535 之间，当前为 %d", c.PeerPort)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 需为 debug/info/warn/error 之一，当前为 %q", c.LogLevel)
	}

	if c.DedupCacheSize < 0 {
		return fmt.Errorf("dedup_cache_size 不能为负数")
	}

	if c.Metrics.Enabled {
		if _, err := parsePort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics.path 不能为空")
		}
		if c.Metrics.HealthPath == "" {
			return fmt.Errorf("metrics.health_path 不能为空")
		}
	}

	return nil
}

// SendTimeout 返回 SendTimeoutNs 对应的 time.Duration。
func (c *Config) SendTimeout() time.Duration { return time.Duration(c.SendTimeoutNs) }

// ResetWindow 返回 ResetWindowNs 对应的 time.Duration。
func (c *Config) ResetWindow() time.Duration { return time.Duration(c.ResetWindowNs) }

// PeerAddrPort 拼出 net.Dial 可直接使用的 "host:port" 字符串。
func (c *Config) PeerAddrPort() string {
	return net.JoinHostPort(c.PeerAddr, strconv.Itoa(c.PeerPort))
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监控监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Metrics.Listen)
	return port
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# fastpass-endpointd 配置文件示例
# =============================================================================

# 可靠性引擎参数，与协议本身的效果一一对应
send_timeout_ns: 10000000      # 10ms: 提交后多久认定描述符已丢失
reset_window_ns: 2000000000    # 2s: 入站 RESET 时间戳相对 now() 的接受窗口
window_len: 256                 # 未确认窗口容量，必须是 2 的幂

# 单对端传输绑定
peer_addr: "10.0.0.1"
peer_port: 1

# 外围配置
log_level: "info"               # debug, info, warn, error
dedup_cache_size: 20000         # 重复投递过滤器容量

# Prometheus 监控 / 健康检查
metrics:
  enabled: true
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
