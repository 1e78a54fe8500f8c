package lsmcore

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation for a VersionSet:
// compaction throughput, version churn, and MANIFEST activity. A zero
// Metrics is safe to use; construct one with NewMetrics and register
// it with a registerer to actually export it.
type Metrics struct {
	CompactionsStarted    prometheus.Counter
	CompactionsCompleted  prometheus.Counter
	CompactionsFailed     prometheus.Counter
	TrivialMoves          prometheus.Counter
	CompactionInputBytes  prometheus.Counter
	CompactionOutputBytes prometheus.Counter

	VersionsInstalled prometheus.Counter
	FilesObsoleted    prometheus.Counter

	ManifestWrites prometheus.Counter
	ManifestBytes  prometheus.Counter

	LevelFiles      *prometheus.GaugeVec
	LevelBytes      *prometheus.GaugeVec
	CompactionScore *prometheus.GaugeVec
}

// NewMetrics constructs Metrics with the given namespace prefixed
// onto every metric name (e.g. "lsmcore").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CompactionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_started_total",
			Help: "Number of compactions picked and started.",
		}),
		CompactionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_completed_total",
			Help: "Number of compactions that installed a VersionEdit successfully.",
		}),
		CompactionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_failed_total",
			Help: "Number of compactions that returned an error before install.",
		}),
		TrivialMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_trivial_moves_total",
			Help: "Number of compactions satisfied by a trivial file move.",
		}),
		CompactionInputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compaction_input_bytes_total",
			Help: "Total bytes read as compaction input.",
		}),
		CompactionOutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compaction_output_bytes_total",
			Help: "Total bytes written as compaction output.",
		}),
		VersionsInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "versions_installed_total",
			Help: "Number of Versions installed as current via LogAndApply.",
		}),
		FilesObsoleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_obsoleted_total",
			Help: "Number of table files that dropped to zero references.",
		}),
		ManifestWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "manifest_writes_total",
			Help: "Number of VersionEdit records appended to the MANIFEST.",
		}),
		ManifestBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "manifest_bytes_total",
			Help: "Total encoded bytes appended to the MANIFEST.",
		}),
		LevelFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "level_files",
			Help: "Number of files at each level of the current Version.",
		}, []string{"level"}),
		LevelBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "level_bytes",
			Help: "Total file bytes at each level of the current Version.",
		}, []string{"level"}),
		CompactionScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "compaction_score",
			Help: "Finalize's computed compaction score per level.",
		}, []string{"level"}),
	}
}

// Collectors returns every metric for registration with a Prometheus
// registerer, e.g. registry.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CompactionsStarted,
		m.CompactionsCompleted,
		m.CompactionsFailed,
		m.TrivialMoves,
		m.CompactionInputBytes,
		m.CompactionOutputBytes,
		m.VersionsInstalled,
		m.FilesObsoleted,
		m.ManifestWrites,
		m.ManifestBytes,
		m.LevelFiles,
		m.LevelBytes,
		m.CompactionScore,
	}
}
