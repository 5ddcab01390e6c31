package interject

import (
	"fmt"
	"strings"
)

// HistoryLine formats one archived message for prompt context.
func HistoryLine(m MessageRecord) string {
	return fmt.Sprintf("%s %s: %s", m.TimestampFriendly, m.AuthorGlobalName, m.Content)
}

// PartitionHistory splits an oldest-first message window into replayable
// turns. Consecutive peer messages collapse into a single user turn of
// formatted lines; each message the bot itself authored becomes an
// assistant turn with its raw content. The trailing peer block is not
// turned into history: it is returned as the live input that closes the
// model request.
func PartitionHistory(window []MessageRecord, self Snowflake) ([]Turn, string) {
	var turns []Turn
	var block []string
	for _, m := range window {
		if m.AuthorID == self {
			if len(block) > 0 {
				turns = append(turns, UserTurn(strings.Join(block, "\n")))
				block = nil
			}
			turns = append(turns, AssistantTurn(m.Content))
			continue
		}
		block = append(block, HistoryLine(m))
	}
	return turns, strings.Join(block, "\n")
}

// AugmentInput appends retrieved context to the live input. Relevant
// messages are formatted like history lines under a separating header so
// the model can tell replayed conversation from recalled background.
func AugmentInput(input string, relevant []MessageRecord) string {
	if len(relevant) == 0 {
		return input
	}
	var b strings.Builder
	b.WriteString(input)
	b.WriteString("\n\nRelevant past messages:\n")
	for i, m := range relevant {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(HistoryLine(m))
	}
	return b.String()
}
