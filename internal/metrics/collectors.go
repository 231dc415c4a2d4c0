// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 去重过滤器状态
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DedupStats 去重过滤器统计数据接口，由 internal/wire.DedupFilter 实现。
type DedupStats interface {
	Capacity() uint
	ApproxElements() uint32
}

// DedupCollector 去重过滤器指标收集器
type DedupCollector struct {
	statsProvider DedupStats

	capacityDesc       *prometheus.Desc
	approxElementsDesc *prometheus.Desc
}

// NewDedupCollector 创建去重过滤器收集器
func NewDedupCollector(provider DedupStats) *DedupCollector {
	namespace := "fastpass"
	subsystem := "dedup"

	return &DedupCollector{
		statsProvider: provider,

		capacityDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "capacity"),
			"Configured capacity of the duplicate-delivery bloom filter",
			nil, nil,
		),
		approxElementsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "approx_elements"),
			"Approximate number of distinct headers observed since the last rotation",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *DedupCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacityDesc
	ch <- c.approxElementsDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *DedupCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.capacityDesc, prometheus.GaugeValue,
		float64(c.statsProvider.Capacity()))
	ch <- prometheus.MustNewConstMetric(c.approxElementsDesc, prometheus.GaugeValue,
		float64(c.statsProvider.ApproxElements()))
}
