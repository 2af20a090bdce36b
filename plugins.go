package main

import (
	"context"
	"log"
	"time"

	"github.com/buger/gorshift/dispatch"
	"github.com/buger/gorshift/stats"
)

// StatsReportFrequency in milliseconds
const StatsReportFrequency = 5000

// OutputPlugins holds everything that receives outcomes during a run.
type OutputPlugins struct {
	Stats     *stats.PeriodStats
	Metrics   *Metrics
	Analyzers []dispatch.ResponseAnalyzer

	closers []func() error
}

func (p *OutputPlugins) register(analyzer dispatch.ResponseAnalyzer, closer func() error) {
	p.Analyzers = append(p.Analyzers, analyzer)
	if closer != nil {
		p.closers = append(p.closers, closer)
	}
}

// InitPlugins creates the statistics collector and every output enabled
// in settings.
func InitPlugins(ctx context.Context, settings *AppSettings, runID string) (*OutputPlugins, error) {
	p := &OutputPlugins{Stats: stats.NewPeriodStats()}
	p.register(p.Stats, nil)

	if settings.outputKafka.host != "" {
		output, err := NewKafkaOutput(runID, &settings.outputKafka)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.register(output, output.Close)
	}

	if settings.outputES != "" {
		es := new(ESPlugin)
		if err := es.Init(settings.outputES, runID); err != nil {
			p.Close()
			return nil, err
		}
		p.register(es, func() error {
			es.IndexerShutdown()
			return nil
		})
	}

	if settings.outputSQLite != "" {
		output, err := NewSQLiteOutput(ctx, settings.outputSQLite, runID)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.register(output, output.Close)
	}

	if settings.metrics != "" {
		p.Metrics = NewMetrics(settings.metrics)
		p.Metrics.Serve()
		p.register(p.Metrics, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return p.Metrics.Shutdown(ctx)
		})
	}

	if settings.stats {
		ctx, cancel := context.WithCancel(ctx)
		stat := NewGorStat("replay", StatsReportFrequency)
		go stat.reportStats(ctx)
		p.register(stat, func() error {
			cancel()
			return nil
		})
	}

	return p, nil
}

// Close flushes and closes outputs in reverse order of creation.
func (p *OutputPlugins) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Println("Failed to close output:", err)
		}
	}
	p.closers = nil
}
