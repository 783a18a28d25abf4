package client

// InvocationRequest is the body of an invocation (from the CLI or any HTTP client).
type InvocationRequest struct {
	Arn     string      `json:"arn,omitempty"`
	Version string      `json:"version,omitempty"`
	Event   interface{} `json:"event,omitempty"`
	// Module is the handler source path relative to the function directory.
	Module string `json:"module,omitempty"`
	// File is a handler reference ("handler.handler"), or a source file when
	// Handler is also set.
	File    string   `json:"file,omitempty"`
	Handler string   `json:"handler,omitempty"`
	Timeout *float64 `json:"timeout,omitempty"`
}
