package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"moff.io/wallet-bridge/internal/bridge"
)

// BridgeMetrics 定义桥接监控指标
type BridgeMetrics struct {
	ProposalsTotal *prometheus.CounterVec
	RequestsTotal  *prometheus.CounterVec
	ResponsesTotal *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	SessionsActive prometheus.Gauge
}

var _ bridge.Observer = (*BridgeMetrics)(nil)

// New registers the bridge collectors on reg.
func New(reg prometheus.Registerer) *BridgeMetrics {
	f := promauto.With(reg)
	return &BridgeMetrics{
		ProposalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_bridge_proposals_total",
			Help: "Connection proposals by outcome",
		}, []string{"result"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_bridge_requests_total",
			Help: "dApp requests received by method",
		}, []string{"method"}),
		ResponsesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_bridge_responses_total",
			Help: "Replies and rejections sent to dApps",
		}, []string{"kind"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_bridge_errors_total",
			Help: "Bridge failures by kind",
		}, []string{"kind"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_bridge_sessions_active",
			Help: "Established dApp sessions",
		}),
	}
}

func (m *BridgeMetrics) ProposalResolved(result string) {
	m.ProposalsTotal.WithLabelValues(result).Inc()
}

func (m *BridgeMetrics) RequestReceived(method string) {
	m.RequestsTotal.WithLabelValues(method).Inc()
}

func (m *BridgeMetrics) ResponseSent(kind string) {
	m.ResponsesTotal.WithLabelValues(kind).Inc()
}

func (m *BridgeMetrics) Failed(kind bridge.Kind) {
	m.ErrorsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *BridgeMetrics) SessionsChanged(n int) {
	m.SessionsActive.Set(float64(n))
}
