package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"interject"
)

// The pipeline is observed by wrapping its collaborators: the bootstrap
// decorates the LLM client, the embedder, the gateway, and each server
// store before handing them to the agent. Core packages never import the
// observer.

// WrapLLM returns an LLM client that records request counts and durations.
func WrapLLM(inner interject.LLM, inst *Instruments) interject.LLM {
	return &observedLLM{inner: inner, inst: inst}
}

type observedLLM struct {
	inner interject.LLM
	inst  *Instruments
}

func (o *observedLLM) Submit(req interject.LLMRequest) <-chan interject.LLMResponse {
	start := time.Now()
	in := o.inner.Submit(req)
	out := make(chan interject.LLMResponse, 1)
	go func() {
		resp := <-in
		o.inst.RecordLLM(context.Background(), req.Model, resp.OK(), time.Since(start))
		out <- resp
	}()
	return out
}

func (o *observedLLM) Close() error { return o.inner.Close() }

// WrapEmbedder returns an embedder that records call counts and durations.
func WrapEmbedder(inner interject.Embedder, inst *Instruments) interject.Embedder {
	return &observedEmbedder{inner: inner, inst: inst}
}

type observedEmbedder struct {
	inner interject.Embedder
	inst  *Instruments
}

func (o *observedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := o.inner.Embed(ctx, text)
	o.inst.RecordEmbed(ctx, 1, err == nil, time.Since(start))
	return vec, err
}

func (o *observedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := o.inner.EmbedBatch(ctx, texts)
	o.inst.RecordEmbed(ctx, len(texts), err == nil, time.Since(start))
	return vecs, err
}

// WrapStore returns a store that counts recorded messages and persisted
// embeddings.
func WrapStore(inner interject.Store, inst *Instruments) interject.Store {
	return &observedStore{Store: inner, inst: inst}
}

type observedStore struct {
	interject.Store
	inst *Instruments
}

func (o *observedStore) InsertMessages(ctx context.Context, channelID interject.Snowflake, msgs []interject.MessageRecord) error {
	err := o.Store.InsertMessages(ctx, channelID, msgs)
	if err == nil {
		o.inst.MessagesRecorded.Add(ctx, int64(len(msgs)),
			metric.WithAttributes(attribute.String("channel", channelID.String())))
	}
	return err
}

func (o *observedStore) InsertEmbedding(ctx context.Context, channelID, id interject.Snowflake, vec []float32) error {
	err := o.Store.InsertEmbedding(ctx, channelID, id, vec)
	if err == nil {
		o.inst.EmbeddingsStored.Add(ctx, 1,
			metric.WithAttributes(attribute.String("channel", channelID.String())))
	}
	return err
}

// WrapGateway returns a gateway that counts fetched history pages.
func WrapGateway(inner interject.Gateway, inst *Instruments) interject.Gateway {
	return &observedGateway{Gateway: inner, inst: inst}
}

type observedGateway struct {
	interject.Gateway
	inst *Instruments
}

func (o *observedGateway) FetchMessagesBefore(ctx context.Context, channelID, before interject.Snowflake, limit int) ([]interject.MessageRecord, error) {
	msgs, err := o.Gateway.FetchMessagesBefore(ctx, channelID, before, limit)
	if err == nil {
		o.inst.BackfillPages.Add(ctx, 1,
			metric.WithAttributes(attribute.String("channel", channelID.String())))
	}
	return msgs, err
}
