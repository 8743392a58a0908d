package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	transactions    metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	rebuilds        metric.Int64Counter
	rebuildDuration metric.Float64Histogram
	writeRetries    metric.Int64Counter
	jobRuns         metric.Int64Counter
	jobDuration     metric.Float64Histogram
	balanceDrift    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "donorbook"
	}
	meter := provider.Meter(name)

	transactions, err := meter.Int64Counter("donorbook_transactions_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("donorbook_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	rebuilds, err := meter.Int64Counter("donorbook_ledger_rebuilds_total")
	if err != nil {
		return nil, err
	}
	rebuildDuration, err := meter.Float64Histogram(
		"donorbook_ledger_rebuild_duration_ms",
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	writeRetries, err := meter.Int64Counter("donorbook_write_retries_total")
	if err != nil {
		return nil, err
	}

	jobRuns, err := meter.Int64Counter("donorbook_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram(
		"donorbook_scheduler_job_duration_ms",
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	balanceDrift, err := meter.Int64Counter("donorbook_ledger_balance_drift_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactions:    transactions,
		ledgerEntries:   ledgerEntries,
		rebuilds:        rebuilds,
		rebuildDuration: rebuildDuration,
		writeRetries:    writeRetries,
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		balanceDrift:    balanceDrift,
	}, nil
}

// RecordTransaction increments transaction write counts per operation.
func (m *Metrics) RecordTransaction(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.transactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntries increments ledger entry counts.
func (m *Metrics) RecordLedgerEntries(ctx context.Context, entryType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.ledgerEntries.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRebuild records the outcome and duration of a ledger rebuild.
func (m *Metrics) RecordRebuild(ctx context.Context, scope, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("scope", strings.TrimSpace(scope)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.rebuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.rebuildDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

// RecordWriteRetry increments retries of the atomic write unit.
func (m *Metrics) RecordWriteRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.writeRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJob records one scheduler job run.
func (m *Metrics) RecordJob(ctx context.Context, job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

// RecordBalanceDrift counts accounts whose cached balance disagreed with the ledger.
func (m *Metrics) RecordBalanceDrift(ctx context.Context, account string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("account", strings.TrimSpace(account)))
	m.balanceDrift.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation":   {},
	"entry_type":  {},
	"scope":       {},
	"outcome":     {},
	"job":         {},
	"account":     {},
	"status_code": {},
	"route":       {},
	"method":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
