// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 健康检查和 Metrics 服务 - 暴露引擎的 in_sync/num_unacked 状态
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer 指标服务器，承载 Prometheus 抓取端点与健康检查端点。
type MetricsServer struct {
	listen      string
	metricsPath string
	healthPath  string
	enablePprof bool

	httpServer *http.Server
	registry   *prometheus.Registry

	healthy     int32
	healthCheck func() HealthStatus
	mu          sync.RWMutex
}

// HealthStatus 健康状态负载。不同于一个通用的按名字索引的组件映射，
// 这里直接携带可靠性引擎自身的可观测字段，因为本守护进程只绑定一个
// 引擎实例和一个对端，没有多组件拓扑需要按名字枚举。
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	Engine    EngineHealth  `json:"engine"`
}

// EngineHealth 直接对应 engine.StatsSnapshot 的一个子集：对端是否已
// 同步当前 epoch，以及未确认窗口相对其容量的占用情况。
type EngineHealth struct {
	InSync             bool   `json:"in_sync"`
	NumUnacked         int    `json:"num_unacked"`
	WindowLen          uint32 `json:"window_len"`
	DuplicateDatagrams uint64 `json:"duplicate_datagrams"`
}

// NewMetricsServer 创建指标服务器，使用独立 registry 避免污染全局。
func NewMetricsServer(listen, metricsPath, healthPath string, enablePprof bool) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsServer{
		listen:      listen,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		enablePprof: enablePprof,
		healthy:     1,
		registry:    registry,
	}
}

// RegisterCollector 注册 Prometheus 收集器。
func (srv *MetricsServer) RegisterCollector(c prometheus.Collector) error {
	return srv.registry.Register(c)
}

// MustRegisterCollector 注册收集器，失败时 panic。
func (srv *MetricsServer) MustRegisterCollector(c prometheus.Collector) {
	srv.registry.MustRegister(c)
}

// SetHealthCheck 设置健康检查函数，通常返回由引擎快照填充的 HealthStatus。
func (srv *MetricsServer) SetHealthCheck(fn func() HealthStatus) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.healthCheck = fn
}

// Start 启动 HTTP 服务器：健康检查端点、Prometheus 抓取端点，以及可选的
// pprof 调试端点。
func (srv *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc(srv.healthPath, srv.handleHealth)
	mux.HandleFunc(srv.healthPath+"/live", srv.handleLiveness)
	mux.HandleFunc(srv.healthPath+"/ready", srv.handleReadiness)

	mux.Handle(srv.metricsPath, promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          srv.registry,
	}))

	if srv.enablePprof {
		registerPprof(mux)
	}

	srv.httpServer = &http.Server{
		Addr:         srv.listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("[metrics] 服务器错误: %v\n", err)
		}
	}()

	return nil
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// handleHealth 返回完整的 HealthStatus JSON 负载。
func (srv *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := srv.currentStatus()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// handleLiveness 是进程级存活探针，只反映 SetHealthy，不查询引擎状态：
// 进程还在正常调度 goroutine 就算存活，哪怕对端暂时失联。
func (srv *MetricsServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&srv.healthy) == 1 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT OK"))
	}
}

// handleReadiness 是就绪探针：完全健康就绪；窗口尚未同步 (degraded) 但
// 未确认窗口还没被占满，仍然就绪，因为新的 A-REQ 仍有空间提交，对端
// 重新同步只是时间问题。窗口已经占满的 degraded 状态则不就绪，调用方
// 此时提交新请求只会立即触发 fall-off。
func (srv *MetricsServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := srv.currentStatus()

	ready := status.Status == "healthy" ||
		(status.Status == "degraded" && status.Engine.NumUnacked < int(status.Engine.WindowLen))

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT READY"))
}

func (srv *MetricsServer) currentStatus() HealthStatus {
	srv.mu.RLock()
	healthCheck := srv.healthCheck
	srv.mu.RUnlock()

	if healthCheck != nil {
		return healthCheck()
	}
	return HealthStatus{Status: "healthy", Timestamp: time.Now()}
}

// SetHealthy 设置进程级存活标志，供 handleLiveness 读取。
func (srv *MetricsServer) SetHealthy(healthy bool) {
	if healthy {
		atomic.StoreInt32(&srv.healthy, 1)
	} else {
		atomic.StoreInt32(&srv.healthy, 0)
	}
}

// Stop 优雅关闭 HTTP 服务器。
func (srv *MetricsServer) Stop() {
	if srv.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.httpServer.Shutdown(ctx)
	}
}

// GetRegistry 返回底层 registry，供测试或额外收集器注册使用。
func (srv *MetricsServer) GetRegistry() *prometheus.Registry {
	return srv.registry
}
