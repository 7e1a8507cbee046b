package pbf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	blocksEncoded *prometheus.CounterVec
	blockStrings  prometheus.Histogram
	blockSize     prometheus.Histogram
	refBytesSaved prometheus.Counter
}

// NewMetrics creates the encoder metrics. A nil registerer is allowed.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		blocksEncoded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "osmpbf_blocks_encoded_total",
			Help: "The number of blocks encoded, by status.",
		}, []string{"status"}),
		blockStrings: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "osmpbf_block_strings",
			Help:    "The number of distinct strings in the string table of a block.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 13),
		}),
		blockSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "osmpbf_block_size_bytes",
			Help:    "The size of an encoded block.",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14),
		}),
		refBytesSaved: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "osmpbf_string_ref_bytes_saved_total",
			Help: "Bytes saved on string references by ordering string tables by frequency.",
		}),
	}
}

func (m *Metrics) observe(s Stats, err error) {
	if err != nil {
		m.blocksEncoded.WithLabelValues("error").Inc()
		return
	}
	m.blocksEncoded.WithLabelValues("success").Inc()
	m.blockStrings.Observe(float64(s.Strings))
	m.blockSize.Observe(float64(s.Bytes))
	m.refBytesSaved.Add(float64(s.RefBytesSaved()))
}
