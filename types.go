package interject

// --- Domain types (archive records) ---

// MessageRecord is one archived chat message, field-for-field what the
// per-channel message table persists.
type MessageRecord struct {
	ID                Snowflake
	ChannelID         Snowflake
	AuthorUserName    string
	AuthorGlobalName  string
	AuthorID          Snowflake
	TimestampUnixMs   int64
	TimestampFriendly string
	Content           string
}

// Stamp fills the derived timestamp fields from the message id.
func (m *MessageRecord) Stamp() {
	m.TimestampUnixMs = m.ID.UnixMs()
	m.TimestampFriendly = m.ID.Friendly()
}

// EmbedText returns the exact text embedded for an archived message:
// friendly timestamp, author display name, content.
func EmbedText(m MessageRecord) string {
	return m.TimestampFriendly + " " + m.AuthorGlobalName + " " + m.Content
}

// ContinuityRange is an inclusive span of message ids known to be gap-free:
// every message the channel ever held between Begin and End is archived.
type ContinuityRange struct {
	Begin Snowflake
	End   Snowflake
}

// Contains reports whether id falls inside the range.
func (r ContinuityRange) Contains(id Snowflake) bool {
	return id >= r.Begin && id <= r.End
}

// StoredEmbedding pairs a message id with its persisted vector.
type StoredEmbedding struct {
	ID     Snowflake
	Vector []float32
}

// SearchHit is a semantic-retrieval result joined back to its record.
type SearchHit struct {
	Record MessageRecord
	Score  float32
}

// --- Gateway events ---

// Incoming is one live message together with its originating server.
type Incoming struct {
	ServerID Snowflake
	MessageRecord
}

// Event is one gateway occurrence: a session becoming ready (Ready set to
// the visible server list) or a message arriving (Message set).
type Event struct {
	Ready   []Snowflake
	Message *Incoming
}

// --- LLM protocol types ---

// Turn is a single prior exchange in a model request's input array.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

func UserTurn(text string) Turn      { return Turn{Role: "user", Content: text} }
func AssistantTurn(text string) Turn { return Turn{Role: "assistant", Content: text} }

// LLMRequest describes one generation: the model, the standing instructions,
// the replayed conversation history, and the live input that closes it.
type LLMRequest struct {
	Model        string
	Instructions string
	History      []Turn
	Input        string
}

// LLMOutput is one element of a response's output array.
type LLMOutput struct {
	Type          string // "message", "reasoning", "file_search_call", "function_call", "web_search_call"
	Text          string // message text; empty when refused
	Refused       bool
	RefusalReason string
	ReasoningID   string
	Summary       string // reasoning summary text
}

// LLMResponse is the resolved result of a submitted request. Exactly one
// response is delivered per submission, including on shutdown.
type LLMResponse struct {
	ID            string
	Status        string
	CreatedAt     int64
	FailureCode   string
	FailureReason string
	HTTPStatus    int   // 0 when the transport failed before a response
	Err           error // transport or decode failure, ErrClosed on drain
	Outputs       []LLMOutput
}

// OK reports whether the request completed: transport succeeded, the model
// reported status "completed", and no error object was attached.
func (r LLMResponse) OK() bool {
	return r.Err == nil && r.Status == "completed" && r.FailureCode == "" && r.FailureReason == ""
}

// FirstMessage returns the first non-refused message output, if any.
func (r LLMResponse) FirstMessage() (LLMOutput, bool) {
	for _, out := range r.Outputs {
		if out.Type == "message" && !out.Refused {
			return out, true
		}
	}
	return LLMOutput{}, false
}
