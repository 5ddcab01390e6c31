package llm

import (
	"interject"
)

// inputItem is one element of the request's input array: a replayed turn or
// the live user input that closes it.
type inputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// requestBody is the wire form of a responses-API request.
type requestBody struct {
	Model        string      `json:"model"`
	Instructions string      `json:"instructions"`
	Input        []inputItem `json:"input"`
}

// buildBody converts an LLMRequest into its wire form: the replayed history
// in order, closed by the live input as a final user turn.
func buildBody(req interject.LLMRequest) requestBody {
	items := make([]inputItem, 0, len(req.History)+1)
	for _, t := range req.History {
		items = append(items, inputItem{Role: t.Role, Content: t.Content})
	}
	items = append(items, inputItem{Role: "user", Content: req.Input})
	return requestBody{
		Model:        req.Model,
		Instructions: req.Instructions,
		Input:        items,
	}
}
