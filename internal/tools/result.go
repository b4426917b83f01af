package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForModel string `json:"for_model"`          // content fed back to the model
	IsError  bool   `json:"is_error,omitempty"` // marks a tool-level failure
}

func NewResult(forModel string) *Result {
	return &Result{ForModel: forModel}
}

func ErrorResult(message string) *Result {
	return &Result{ForModel: message, IsError: true}
}
