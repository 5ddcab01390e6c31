package interject

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// --- In-memory store ---

// memStore implements Store in memory with the same merge and lookup
// semantics as the SQL backends. Not synchronized; the Archiver serializes
// per-server access.
type memStore struct {
	channels map[Snowflake]bool
	msgs     map[Snowflake]map[Snowflake]MessageRecord
	ranges   map[Snowflake][]ContinuityRange
	vecs     map[Snowflake]map[Snowflake][]float32

	insertErr error // next InsertMessages fails with this
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{
		channels: make(map[Snowflake]bool),
		msgs:     make(map[Snowflake]map[Snowflake]MessageRecord),
		ranges:   make(map[Snowflake][]ContinuityRange),
		vecs:     make(map[Snowflake]map[Snowflake][]float32),
	}
}

func (s *memStore) EnsureChannel(_ context.Context, ch Snowflake) error {
	if !s.channels[ch] {
		s.channels[ch] = true
		s.msgs[ch] = make(map[Snowflake]MessageRecord)
		s.vecs[ch] = make(map[Snowflake][]float32)
	}
	return nil
}

func (s *memStore) Channels(context.Context) ([]Snowflake, error) {
	out := make([]Snowflake, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out, nil
}

func (s *memStore) InsertMessages(_ context.Context, ch Snowflake, msgs []MessageRecord) error {
	if s.insertErr != nil {
		err := s.insertErr
		s.insertErr = nil
		return err
	}
	for _, m := range msgs {
		if _, ok := s.msgs[ch][m.ID]; !ok {
			s.msgs[ch][m.ID] = m
		}
	}
	return nil
}

func (s *memStore) Message(_ context.Context, ch, id Snowflake) (MessageRecord, error) {
	m, ok := s.msgs[ch][id]
	if !ok {
		return MessageRecord{}, ErrNotFound
	}
	return m, nil
}

func (s *memStore) CountMessagesInRange(_ context.Context, ch, lo, hi Snowflake) (int, error) {
	n := 0
	for id := range s.msgs[ch] {
		if id >= lo && id <= hi {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RecentMessages(ctx context.Context, ch, anchor Snowflake, limit int) ([]MessageRecord, error) {
	r, err := s.ContinuityContaining(ctx, ch, anchor)
	if err != nil {
		return nil, nil
	}
	var ids []Snowflake
	for id := range s.msgs[ch] {
		if id >= r.Begin && id <= anchor {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b Snowflake) int { return cmp.Compare(b, a) })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]MessageRecord, len(ids))
	for i, id := range ids {
		out[i] = s.msgs[ch][id]
	}
	return out, nil
}

func (s *memStore) MergeContinuity(_ context.Context, ch, lo, hi Snowflake) (ContinuityRange, error) {
	touchLo := lo
	if touchLo > 0 {
		touchLo--
	}
	touchHi := hi + 1
	merged := ContinuityRange{Begin: lo, End: hi}
	var kept []ContinuityRange
	for _, r := range s.ranges[ch] {
		if r.End >= touchLo && r.Begin <= touchHi {
			if r.Begin < merged.Begin {
				merged.Begin = r.Begin
			}
			if r.End > merged.End {
				merged.End = r.End
			}
			continue
		}
		kept = append(kept, r)
	}
	kept = append(kept, merged)
	slices.SortFunc(kept, func(a, b ContinuityRange) int { return cmp.Compare(a.Begin, b.Begin) })
	s.ranges[ch] = kept
	return merged, nil
}

func (s *memStore) ContinuityContaining(_ context.Context, ch, id Snowflake) (ContinuityRange, error) {
	for _, r := range s.ranges[ch] {
		if r.Contains(id) {
			return r, nil
		}
	}
	return ContinuityRange{}, ErrNotFound
}

func (s *memStore) ContinuityRanges(_ context.Context, ch Snowflake) ([]ContinuityRange, error) {
	return slices.Clone(s.ranges[ch]), nil
}

func (s *memStore) MissingEmbeddings(_ context.Context, ch Snowflake, ids []Snowflake) ([]Snowflake, error) {
	var out []Snowflake
	for _, id := range ids {
		if _, ok := s.vecs[ch][id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memStore) InsertEmbedding(_ context.Context, ch, id Snowflake, vec []float32) error {
	s.vecs[ch][id] = slices.Clone(vec)
	return nil
}

func (s *memStore) AllEmbeddings(_ context.Context, ch Snowflake) ([]StoredEmbedding, error) {
	var ids []Snowflake
	for id := range s.vecs[ch] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]StoredEmbedding, len(ids))
	for i, id := range ids {
		out[i] = StoredEmbedding{ID: id, Vector: s.vecs[ch][id]}
	}
	return out, nil
}

func (s *memStore) Close() error {
	s.closed = true
	return nil
}

var _ Store = (*memStore)(nil)

// --- Gateway fake ---

type sentMessage struct {
	channel Snowflake
	text    string
}

// fakeGateway serves scripted history and records sends. history maps a
// channel to its full message list, ascending by id; FetchMessagesBefore
// pages it the way the platform does.
type fakeGateway struct {
	mu      sync.Mutex
	self    Snowflake
	events  chan Event
	history map[Snowflake][]MessageRecord
	sent    []sentMessage
	fetches int
}

func newFakeGateway(self Snowflake) *fakeGateway {
	return &fakeGateway{
		self:    self,
		events:  make(chan Event, 16),
		history: make(map[Snowflake][]MessageRecord),
	}
}

func (g *fakeGateway) Open(context.Context) error { return nil }
func (g *fakeGateway) Close() error               { close(g.events); return nil }
func (g *fakeGateway) Self() Snowflake            { return g.self }
func (g *fakeGateway) Events() <-chan Event       { return g.events }

func (g *fakeGateway) TextChannels(_ context.Context, _ Snowflake) ([]Snowflake, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Snowflake
	for ch := range g.history {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out, nil
}

func (g *fakeGateway) FetchMessagesBefore(_ context.Context, ch, before Snowflake, limit int) ([]MessageRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	var page []MessageRecord
	msgs := g.history[ch]
	for i := len(msgs) - 1; i >= 0 && len(page) < limit; i-- {
		if msgs[i].ID < before {
			page = append(page, msgs[i])
		}
	}
	return page, nil
}

func (g *fakeGateway) Send(_ context.Context, ch Snowflake, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{channel: ch, text: content})
	return nil
}

func (g *fakeGateway) sentMessages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.sent)
}

var _ Gateway = (*fakeGateway)(nil)

// --- LLM fake ---

// scriptLLM resolves submissions from a scripted reply list, in order. When
// the script runs out it answers with a completed "no".
type scriptLLM struct {
	mu      sync.Mutex
	reqs    []LLMRequest
	replies []LLMResponse
	closed  bool
}

func textResponse(text string) LLMResponse {
	return LLMResponse{
		Status:  "completed",
		Outputs: []LLMOutput{{Type: "message", Text: text}},
	}
}

func (l *scriptLLM) Submit(req LLMRequest) <-chan LLMResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan LLMResponse, 1)
	if l.closed {
		ch <- LLMResponse{Err: ErrClosed}
		return ch
	}
	l.reqs = append(l.reqs, req)
	if len(l.replies) > 0 {
		ch <- l.replies[0]
		l.replies = l.replies[1:]
	} else {
		ch <- textResponse("no")
	}
	return ch
}

func (l *scriptLLM) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *scriptLLM) requests() []LLMRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.reqs)
}

var _ LLM = (*scriptLLM)(nil)

// --- Embedder fake ---

// fakeEmbedder returns a deterministic vector per text: dimension 0 holds
// the text length, the rest are zero.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error // next call fails with this
}

func (e *fakeEmbedder) vec(text string) []float32 {
	v := make([]float32, 768)
	v[0] = float32(len(text))
	return v
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		err := e.err
		e.err = nil
		return nil, err
	}
	e.batches = append(e.batches, slices.Clone(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *fakeEmbedder) embedded() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.batches)
}

var _ Embedder = (*fakeEmbedder)(nil)

// --- Index fake ---

// fakeIndex records adds and answers searches from a preset hit list.
type fakeIndex struct {
	mu    sync.Mutex
	added []Snowflake
	hits  []Snowflake
}

func (x *fakeIndex) Add(_, _, id Snowflake, _ []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.added = append(x.added, id)
	return nil
}

func (x *fakeIndex) Search(_ context.Context, _, _ Snowflake, _ []float32, k int) ([]Snowflake, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	hits := x.hits
	if len(hits) > k {
		hits = hits[:k]
	}
	return slices.Clone(hits), nil
}

func (x *fakeIndex) Close() error { return nil }

var _ Index = (*fakeIndex)(nil)

// --- Builders ---

// msgAt builds a message with derived timestamps filled in.
func msgAt(id, channel, author Snowflake, content string) MessageRecord {
	m := MessageRecord{
		ID:               id,
		ChannelID:        channel,
		AuthorUserName:   "user" + author.String(),
		AuthorGlobalName: "User " + author.String(),
		AuthorID:         author,
		Content:          content,
	}
	m.Stamp()
	return m
}
