package llm

// Response wraps an LLM completion result.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// Truncated reports whether the completion was cut off by the token limit.
func (r *Response) Truncated() bool {
	return r.StopReason == "length" || r.StopReason == "max_tokens"
}
