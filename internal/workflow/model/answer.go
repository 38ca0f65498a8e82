package model

type AnswerInput struct {
	Query   string
	History []Exchange

	// RetrievedContext is the rendered chunks with their [doc:<id>] markers.
	RetrievedContext string
	// Direct answers small talk without archive context.
	Direct bool

	Provider string
	Model    string

	Temperature *float32
	MaxTokens   *int
}

type AnswerOutput struct {
	Content string
	Meta    LLMUsageMeta
}

type ClassifyInput struct {
	Query    string
	History  []Exchange
	Provider string
	Model    string
}

type ClassifyOutput struct {
	Trivial bool   `json:"trivial"`
	Reason  string `json:"reason"`
}

type RewriteInput struct {
	Query    string
	History  []Exchange
	Provider string
	Model    string
}
