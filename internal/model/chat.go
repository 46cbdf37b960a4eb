package model

// ChatRequest is the body of a streaming chat call. ChatID is omitted for a
// brand-new conversation; the server answers with a conversation_id event.
type ChatRequest struct {
	Message           string   `json:"message"`
	SelectedDocuments []string `json:"selectedDocuments,omitempty"`
	ChatID            string   `json:"chatId,omitempty"`
	AgentSlug         string   `json:"agentSlug,omitempty"`
}

// LimitInfo is the authoritative quota snapshot attached to a 429 response.
type LimitInfo struct {
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

// ErrorResponse is the JSON body of any non-200 chat response.
type ErrorResponse struct {
	Error     string     `json:"error"`
	LimitInfo *LimitInfo `json:"limit_info,omitempty"`
}

// Agent is a selectable chat persona.
type Agent struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	SystemPrompt string `json:"-"`
}
