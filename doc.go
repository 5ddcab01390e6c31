// Package interject is a chat-participation agent: a bot that archives every
// message it can see, tracks which spans of channel history are gap-free,
// embeds archived messages into a per-channel semantic index, and uses a
// two-stage LLM pipeline to decide when to join the conversation and what
// to say.
//
// # Architecture
//
// Incoming messages flow through a single pipeline: record, guard, gather
// recent continuous context, ask a fast model whether a reply is warranted,
// and only then retrieve semantically similar past messages and generate a
// reply with the primary model.
//
// The root package defines the contracts all components implement:
//
//   - [Gateway] — the chat platform session (gateway/discord)
//   - [Store] — per-server archive persistence (store/sqlite, store/postgres)
//   - [LLM] — the serialized language-model client (llm)
//   - [Embedder] — text-to-vector embedding (embed)
//   - [Index] — per-channel semantic retrieval (semindex)
//
// and the two core components built on them:
//
//   - [Archiver] — per-server message persistence with continuity tracking
//     and embedding upkeep
//   - [Agent] — the conversation pipeline and startup history backfill
//
// # Quick start
//
//	open := func(server interject.Snowflake) (interject.Store, error) {
//		return sqlite.Open(filepath.Join(dir, server.String(), "persistence.db"))
//	}
//	arch := interject.NewArchiver(open, embedClient)
//	idx := semindex.New(arch.ChannelEmbeddings)
//	agent := interject.NewAgent(gw, arch, llmClient, embedClient, idx,
//		interject.WithInstructions(persona, prefilter),
//	)
//	err := agent.Run(ctx)
//
// See cmd/interject for the complete wiring.
package interject
