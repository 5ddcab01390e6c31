package llm

import (
	"encoding/json"
	"log/slog"

	"interject"
)

// Wire types for the responses API. Only the fields the agent consumes are
// decoded; everything else is dropped by encoding/json.

type responseBody struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	CreatedAt int64           `json:"created_at"`
	Error     *responseError  `json:"error"`
	Output    []outputElement `json:"output"`
}

type responseError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type outputElement struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Content []contentEntry `json:"content"`
	Summary []summaryEntry `json:"summary"`
}

type contentEntry struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Refusal string `json:"refusal"`
}

type summaryEntry struct {
	Text string `json:"text"`
}

// parseResponse decodes a responses-API body into an LLMResponse. Decode
// failure is returned as an error; unknown output types are logged and
// skipped, never fatal.
func parseResponse(data []byte, logger *slog.Logger) (interject.LLMResponse, error) {
	var body responseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return interject.LLMResponse{}, err
	}

	resp := interject.LLMResponse{
		ID:        body.ID,
		Status:    body.Status,
		CreatedAt: body.CreatedAt,
	}
	if body.Error != nil {
		resp.FailureCode = body.Error.Code
		resp.FailureReason = body.Error.Reason
	}

	for _, el := range body.Output {
		switch el.Type {
		case "message":
			out := interject.LLMOutput{Type: el.Type}
			if len(el.Content) > 0 {
				first := el.Content[0]
				if first.Refusal != "" {
					out.Refused = true
					out.RefusalReason = first.Refusal
				} else {
					out.Text = first.Text
				}
			}
			resp.Outputs = append(resp.Outputs, out)
		case "reasoning":
			out := interject.LLMOutput{Type: el.Type, ReasoningID: el.ID}
			if len(el.Summary) > 0 {
				out.Summary = el.Summary[0].Text
			}
			resp.Outputs = append(resp.Outputs, out)
		case "file_search_call", "function_call", "web_search_call":
			// Recognised tool activity; retained as a typed marker only.
			resp.Outputs = append(resp.Outputs, interject.LLMOutput{Type: el.Type})
		default:
			logger.Warn("unknown output type skipped", "type", el.Type, "response", body.ID)
		}
	}
	return resp, nil
}
