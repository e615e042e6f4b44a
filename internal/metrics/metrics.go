// Package metrics holds the prometheus counters shared by the engine.
package metrics

import (
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strand"

// Metrics registers every counter on a private registry so that several
// repositories in one process do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	Snapshots             prometheus.Counter
	FilesHashed           prometheus.Counter
	TreeMerges            prometheus.Counter
	ConflictsMaterialized prometheus.Counter
	CommitsRebased        prometheus.Counter
	OperationsCommitted   prometheus.Counter
	TransactionRetries    prometheus.Counter
	CacheHits             *prometheus.CounterVec
	CacheMisses           *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(subsystem, name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		Registry:              reg,
		Snapshots:             counter("workingcopy", "snapshots_total", "Number of working-copy snapshots taken."),
		FilesHashed:           counter("workingcopy", "files_hashed_total", "Number of files read and hashed during snapshots."),
		TreeMerges:            counter("tree", "merges_total", "Number of non-trivial tree merges."),
		ConflictsMaterialized: counter("workingcopy", "conflicts_materialized_total", "Number of conflicted files written with markers."),
		CommitsRebased:        counter("rewrite", "commits_rebased_total", "Number of descendant commits rebased."),
		OperationsCommitted:   counter("oplog", "operations_total", "Number of operations recorded."),
		TransactionRetries:    counter("oplog", "transaction_retries_total", "Number of transactions retried after a concurrent modification."),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache name.",
		}, []string{"cache"}),
	}
}

// OrNew returns m, or a fresh set of metrics when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}

// Dump writes every counter as "name{labels} value", sorted by name.
func (m *Metrics) Dump(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			labels := ""
			for _, lp := range metric.GetLabel() {
				if labels != "" {
					labels += ","
				}
				labels += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
			}
			if labels != "" {
				labels = "{" + labels + "}"
			}
			if _, err := fmt.Fprintf(w, "%s%s %g\n", fam.GetName(), labels, metric.GetCounter().GetValue()); err != nil {
				return err
			}
		}
	}
	return nil
}
