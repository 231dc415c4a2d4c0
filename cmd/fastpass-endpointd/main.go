// =============================================================================
// 文件: cmd/fastpass-endpointd/main.go
// 描述: 主程序入口 - 集成配置加载、可靠性引擎、UDP 传输与 Prometheus 指标
// =============================================================================
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"flag"

	"github.com/fastpass/endpoint/internal/config"
	"github.com/fastpass/endpoint/internal/engine"
	"github.com/fastpass/endpoint/internal/metrics"
	"github.com/fastpass/endpoint/internal/outwnd"
	"github.com/fastpass/endpoint/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	logLevel := flag.String("log-level", "", "覆盖配置文件中的 log_level")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 指标与健康检查服务器
	var metricsServer *metrics.MetricsServer
	var gauges *metrics.EndpointGauges

	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		gauges = metrics.NewEndpointGauges(metricsServer.GetRegistry())
	}

	// UDP 传输层，连接到单一对端控制器
	tr, err := transport.Dial(cfg, transport.DefaultBufferConfig(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "传输层启动失败: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	if gauges != nil {
		tr.SetGauges(gauges)
	}

	// 可靠性引擎：outstanding window + seqno/reset + ack decoder +
	// retransmit discipline + frame codec，全部在内部串行化。
	eng := engine.New(engine.Config{
		SendTimeout:    cfg.SendTimeout(),
		ResetWindow:    cfg.ResetWindow(),
		WindowLen:      cfg.WindowLen,
		DedupCacheSize: cfg.DedupCacheSize,
	}, tr, newLoggingCallbacks(cfg.LogLevel))
	defer eng.Close()

	if metricsServer != nil {
		metricsServer.MustRegisterCollector(engine.NewCollector(eng))
		metricsServer.MustRegisterCollector(metrics.NewDedupCollector(eng.DedupStats()))

		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return buildHealthStatus(eng, cfg.WindowLen)
		})

		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	go tr.ReceiveLoop(ctx, eng)

	printBanner(cfg, metricsServer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n正在关闭...")
	cancel()

	if metricsServer != nil {
		metricsServer.Stop()
	}
}

// =============================================================================
// 默认回调：记录确认/否定确认/重置/分配事件，不产生 A-REQ 队列
// （队列调度属于上层，超出本引擎范围）。
// =============================================================================

type loggingCallbacks struct {
	level int
}

func newLoggingCallbacks(logLevel string) *loggingCallbacks {
	level := 1
	switch logLevel {
	case "debug":
		level = 2
	case "error":
		level = 0
	}
	return &loggingCallbacks{level: level}
}

func (c *loggingCallbacks) HandleAck(pd *outwnd.PktDesc) {
	c.log(2, "ack seq=%d", pd.Seqno)
}

func (c *loggingCallbacks) HandleNegAck(pd *outwnd.PktDesc) {
	c.log(1, "neg-ack seq=%d", pd.Seqno)
}

func (c *loggingCallbacks) HandleReset() {
	c.log(1, "reset accepted")
}

func (c *loggingCallbacks) HandleAlloc(baseTslot uint32, dst []uint16, tslots []byte) {
	c.log(2, "alloc base=%d dst=%d slots=%d", baseTslot, len(dst), len(tslots))
}

func (c *loggingCallbacks) log(level int, format string, args ...interface{}) {
	if level > c.level {
		return
	}
	fmt.Printf("[callbacks] "+format+"\n", args...)
}

// =============================================================================
// 健康检查
// =============================================================================

func buildHealthStatus(eng *engine.Engine, windowLen uint32) metrics.HealthStatus {
	s := eng.SnapshotStats()

	status := metrics.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(startTime),
		Engine: metrics.EngineHealth{
			InSync:             s.InSync,
			NumUnacked:         s.NumUnacked,
			WindowLen:          windowLen,
			DuplicateDatagrams: s.DuplicateDatagrams,
		},
	}

	if !s.InSync {
		status.Status = "degraded"
	}

	return status
}

// =============================================================================
// 版本和横幅
// =============================================================================

func printVersion() {
	fmt.Printf("fastpass-endpointd v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printBanner(cfg *config.Config, ms *metrics.MetricsServer) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║         fastpass-endpointd                                        ║")
	fmt.Println("║         outstanding window + seqno/reset + ack + retransmit       ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  对端: %-60s ║\n", cfg.PeerAddrPort())
	fmt.Printf("║  窗口长度: %-56d ║\n", cfg.WindowLen)
	fmt.Printf("║  发送超时: %-56s ║\n", cfg.SendTimeout())
	fmt.Printf("║  重置窗口: %-56s ║\n", cfg.ResetWindow())

	if ms != nil {
		fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
		fmt.Printf("║  Prometheus: http://localhost%s%-35s ║\n", cfg.Metrics.Listen, cfg.Metrics.Path)
		fmt.Printf("║  健康检查:   http://localhost%s%-33s ║\n", cfg.Metrics.Listen, cfg.Metrics.HealthPath)
	}

	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                                   ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
