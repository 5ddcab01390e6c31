// Package observer provides OTEL-based observability for the conversation
// pipeline: counters and histograms for LLM calls, embedding batches,
// archival writes, and backfill paging, exported over OTLP HTTP.
//
// Observability is opt-in. When disabled, Noop instruments record nothing
// and cost callers nothing beyond a nil-check-free method call.
package observer

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "interject/observer"

// Instruments holds every instrument the pipeline records into.
type Instruments struct {
	Tracer trace.Tracer

	// Counters
	LLMRequests      metric.Int64Counter // model, outcome
	EmbedRequests    metric.Int64Counter // outcome
	MessagesRecorded metric.Int64Counter
	EmbeddingsStored metric.Int64Counter
	BackfillPages    metric.Int64Counter

	// Histograms
	LLMDuration   metric.Float64Histogram // ms; model, outcome
	EmbedDuration metric.Float64Histogram // ms; batch size bucketed by attr
}

// Noop returns Instruments that record nothing. Used when the observer is
// disabled so call sites stay unconditional.
func Noop() *Instruments {
	meter := noop.NewMeterProvider().Meter(scopeName)
	inst, _ := newInstruments(tracenoop.NewTracerProvider().Tracer(scopeName), meter)
	return inst
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Endpoint configuration comes from the standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("interject")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(otel.Tracer(scopeName), otel.Meter(scopeName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

func newInstruments(tracer trace.Tracer, meter metric.Meter) (*Instruments, error) {
	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	embedRequests, err := meter.Int64Counter("embedding.requests",
		metric.WithDescription("Embedding request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	messagesRecorded, err := meter.Int64Counter("archive.messages",
		metric.WithDescription("Messages recorded to persistence"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}
	embeddingsStored, err := meter.Int64Counter("archive.embeddings",
		metric.WithDescription("Embedding vectors persisted"),
		metric.WithUnit("{vector}"))
	if err != nil {
		return nil, err
	}
	backfillPages, err := meter.Int64Counter("backfill.pages",
		metric.WithDescription("History pages fetched during backfill"),
		metric.WithUnit("{page}"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	embedDuration, err := meter.Float64Histogram("embedding.duration",
		metric.WithDescription("Embedding call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:           tracer,
		LLMRequests:      llmRequests,
		EmbedRequests:    embedRequests,
		MessagesRecorded: messagesRecorded,
		EmbeddingsStored: embeddingsStored,
		BackfillPages:    backfillPages,
		LLMDuration:      llmDuration,
		EmbedDuration:    embedDuration,
	}, nil
}

// RecordLLM records one completed LLM round-trip.
func (i *Instruments) RecordLLM(ctx context.Context, model string, ok bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("ok", ok),
	)
	i.LLMRequests.Add(ctx, 1, attrs)
	i.LLMDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordEmbed records one embedding call of batchSize texts.
func (i *Instruments) RecordEmbed(ctx context.Context, batchSize int, ok bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.Int("batch_size", batchSize),
		attribute.Bool("ok", ok),
	)
	i.EmbedRequests.Add(ctx, 1, attrs)
	i.EmbedDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
