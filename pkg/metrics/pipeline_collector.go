package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const collectTimeout = 2 * time.Second

// StatusSource is what the collector reads on every scrape.
type StatusSource interface {
	Status(ctx context.Context) (pipeline.Status, error)
}

type pipelineCollector struct {
	source        StatusSource
	jobsByStatus  *prometheus.Desc
	queueLength   *prometheus.Desc
	workers       *prometheus.Desc
	modelLoaded   *prometheus.Desc
	loadedWorkers *prometheus.Desc
	batchActive   *prometheus.Desc
}

func NewPipelineCollector(s StatusSource) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_pipeline_%s", cutout, name)
	}

	return &pipelineCollector{
		source: s,
		jobsByStatus: prometheus.NewDesc(
			fqName("jobs"),
			"Number of jobs in the store by status.",
			[]string{statusLabel},
			prometheus.Labels{},
		),
		queueLength: prometheus.NewDesc(
			fqName("queue_length"),
			"Number of jobs waiting in a stage queue.",
			[]string{stageLabel},
			prometheus.Labels{},
		),
		workers: prometheus.NewDesc(
			fqName("workers"),
			"Number of stage workers by init status.",
			[]string{stageLabel, statusLabel},
			prometheus.Labels{},
		),
		modelLoaded: prometheus.NewDesc(
			fqName("model_loaded"),
			"1 when at least one segmentation worker has the model loaded.",
			nil,
			prometheus.Labels{},
		),
		loadedWorkers: prometheus.NewDesc(
			fqName("model_loaded_workers"),
			"Number of segmentation workers with the model loaded.",
			nil,
			prometheus.Labels{},
		),
		batchActive: prometheus.NewDesc(
			fqName("batch_active"),
			"1 while a batch is running.",
			nil,
			prometheus.Labels{},
		),
	}
}

// RegisterPipelineCollector adds the collector to the default registry.
func RegisterPipelineCollector(s StatusSource) error {
	return prometheus.Register(NewPipelineCollector(s))
}

func (c *pipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByStatus
	ch <- c.queueLength
	ch <- c.workers
	ch <- c.modelLoaded
	ch <- c.loadedWorkers
	ch <- c.batchActive
}

// Collect implements Collector.
func (c *pipelineCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	status, err := c.source.Status(ctx)
	if err != nil {
		zap.S().Named("pipeline_collector").Errorf("failed to collect pipeline status: %s", err)
		return
	}

	for jobStatus, total := range status.Jobs {
		ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, float64(total), string(jobStatus))
	}

	for _, s := range status.Stages {
		ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(s.Queued), s.Name)

		counts := map[string]int{}
		for _, w := range s.Workers {
			counts[string(w.Status)]++
		}
		for workerStatus, total := range counts {
			ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(total), s.Name, workerStatus)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.modelLoaded, prometheus.GaugeValue, boolValue(status.Model.Loaded))
	ch <- prometheus.MustNewConstMetric(c.loadedWorkers, prometheus.GaugeValue, float64(status.Model.LoadedWorkers))
	ch <- prometheus.MustNewConstMetric(c.batchActive, prometheus.GaugeValue, boolValue(status.BatchActive))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
