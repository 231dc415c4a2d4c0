package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes an Engine's statistics as Prometheus metrics. It
// does not register itself; callers pass it to a registry the way
// internal/metrics wires up its server.
type Collector struct {
	engine *Engine

	redundantResetsDesc    *prometheus.Desc
	resetsOutOfWindowDesc  *prometheus.Desc
	resetsOutdatedDesc     *prometheus.Desc
	tooEarlyAcksDesc       *prometheus.Desc
	fallOffsDesc           *prometheus.Desc
	xmitErrorsDesc         *prometheus.Desc
	allocErrorsDesc        *prometheus.Desc
	packetsTooShortDesc    *prometheus.Desc
	unknownPayloadsDesc    *prometheus.Desc
	incompletePayloadsDesc *prometheus.Desc
	positiveAcksDesc       *prometheus.Desc
	negativeAcksDesc       *prometheus.Desc
	duplicateDatagramsDesc *prometheus.Desc
	numUnackedDesc         *prometheus.Desc
	inSyncDesc             *prometheus.Desc
}

// NewCollector returns a Collector reading from e.
func NewCollector(e *Engine) *Collector {
	const (
		namespace = "fastpass"
		subsystem = "endpoint"
	)

	return &Collector{
		engine: e,

		redundantResetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "redundant_resets_total"),
			"Inbound RESET payloads matching the already-accepted epoch", nil, nil),
		resetsOutOfWindowDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "resets_out_of_window_total"),
			"Inbound RESET payloads rejected as outside the acceptance window", nil, nil),
		resetsOutdatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "resets_outdated_total"),
			"Inbound RESET payloads rejected as older than the current epoch", nil, nil),
		tooEarlyAcksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "too_early_acks_total"),
			"Inbound ACK payloads naming a sequence before the window", nil, nil),
		fallOffsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "fall_offs_total"),
			"Descriptors evicted from the window before being acknowledged", nil, nil),
		xmitErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "xmit_errors_total"),
			"Transport send failures", nil, nil),
		allocErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "alloc_errors_total"),
			"Descriptor allocation failures on send", nil, nil),
		packetsTooShortDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_too_short_total"),
			"Inbound datagrams shorter than the header", nil, nil),
		unknownPayloadsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "unknown_payloads_total"),
			"Inbound payloads with an unrecognized type nibble", nil, nil),
		incompletePayloadsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "incomplete_payloads_total"),
			"Inbound payloads truncated before their fixed or declared length", nil, nil),
		positiveAcksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "positive_acks_total"),
			"Descriptors positively acknowledged", nil, nil),
		negativeAcksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "negative_acks_total"),
			"Descriptors negatively acknowledged (timeout or fall-off)", nil, nil),
		duplicateDatagramsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "duplicate_datagrams_total"),
			"Inbound datagrams matching the dedup filter", nil, nil),
		numUnackedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "num_unacked"),
			"Descriptors currently outstanding in the window", nil, nil),
		inSyncDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "in_sync"),
			"Whether the peer is known to share the current epoch (1 = yes)", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.redundantResetsDesc
	ch <- c.resetsOutOfWindowDesc
	ch <- c.resetsOutdatedDesc
	ch <- c.tooEarlyAcksDesc
	ch <- c.fallOffsDesc
	ch <- c.xmitErrorsDesc
	ch <- c.allocErrorsDesc
	ch <- c.packetsTooShortDesc
	ch <- c.unknownPayloadsDesc
	ch <- c.incompletePayloadsDesc
	ch <- c.positiveAcksDesc
	ch <- c.negativeAcksDesc
	ch <- c.duplicateDatagramsDesc
	ch <- c.numUnackedDesc
	ch <- c.inSyncDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.SnapshotStats()

	ch <- prometheus.MustNewConstMetric(c.redundantResetsDesc, prometheus.CounterValue, float64(s.RedundantResets))
	ch <- prometheus.MustNewConstMetric(c.resetsOutOfWindowDesc, prometheus.CounterValue, float64(s.ResetsOutOfWindow))
	ch <- prometheus.MustNewConstMetric(c.resetsOutdatedDesc, prometheus.CounterValue, float64(s.ResetsOutdated))
	ch <- prometheus.MustNewConstMetric(c.tooEarlyAcksDesc, prometheus.CounterValue, float64(s.TooEarlyAcks))
	ch <- prometheus.MustNewConstMetric(c.fallOffsDesc, prometheus.CounterValue, float64(s.FallOffs))
	ch <- prometheus.MustNewConstMetric(c.xmitErrorsDesc, prometheus.CounterValue, float64(s.XmitErrors))
	ch <- prometheus.MustNewConstMetric(c.allocErrorsDesc, prometheus.CounterValue, float64(s.AllocErrors))
	ch <- prometheus.MustNewConstMetric(c.packetsTooShortDesc, prometheus.CounterValue, float64(s.PacketsTooShort))
	ch <- prometheus.MustNewConstMetric(c.unknownPayloadsDesc, prometheus.CounterValue, float64(s.UnknownPayloads))
	ch <- prometheus.MustNewConstMetric(c.incompletePayloadsDesc, prometheus.CounterValue, float64(s.IncompletePayloads))
	ch <- prometheus.MustNewConstMetric(c.positiveAcksDesc, prometheus.CounterValue, float64(s.PositiveAcks))
	ch <- prometheus.MustNewConstMetric(c.negativeAcksDesc, prometheus.CounterValue, float64(s.NegativeAcks))
	ch <- prometheus.MustNewConstMetric(c.duplicateDatagramsDesc, prometheus.CounterValue, float64(s.DuplicateDatagrams))
	ch <- prometheus.MustNewConstMetric(c.numUnackedDesc, prometheus.GaugeValue, float64(s.NumUnacked))

	inSync := 0.0
	if s.InSync {
		inSync = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.inSyncDesc, prometheus.GaugeValue, inSync)
}
