package tools

import "encoding/json"

// request is one line written to a tool server's stdin.
type request struct {
	ID     int64          `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// response is one line read back from a tool server's stdout.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
