package protocol

import (
	"encoding/json"

	"github.com/vsocky/vsocky/vsockerr"
)

// Request types the host may send.
const (
	TypeExec    = "exec"
	TypePing    = "ping"
	TypeStatus  = "status"
	TypeVersion = "version"
)

// Response types the agent sends back. Status and version responses reuse
// the request type names.
const (
	TypeResult = "result"
	TypePong   = "pong"
	TypeError  = "error"
)

// Request is a host-to-agent message. Code and Stdin carry base64-encoded
// bytes; everything else is plain JSON.
type Request struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// exec only
	Language  string `json:"language,omitempty"`
	Code      string `json:"code,omitempty"`
	Stdin     string `json:"stdin,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Usage reports the resource consumption of a finished execution.
type Usage struct {
	MaxRSSKB     int64 `json:"max_rss_kb"`
	UserTimeMS   int64 `json:"user_time_ms"`
	SystemTimeMS int64 `json:"system_time_ms"`
}

// AgentStatus reports the agent's own resource usage, for status requests
// and the debug endpoint.
type AgentStatus struct {
	PID           int     `json:"pid"`
	RSSBytes      uint64  `json:"rss_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	NumGoroutines int     `json:"num_goroutines"`
	UptimeMS      int64   `json:"uptime_ms"`
}

// WireError is the error payload of an error response. Kind is a stable
// taxonomy token; Message is the human-readable description.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is an agent-to-host message. Stdout and Stderr carry
// base64-encoded bytes.
type Response struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// result
	ExitCode        int    `json:"exit_code,omitempty"`
	Stdout          string `json:"stdout,omitempty"`
	Stderr          string `json:"stderr,omitempty"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	TimeMS          int64  `json:"time_ms,omitempty"`
	Usage           *Usage `json:"usage,omitempty"`

	// status
	Status *AgentStatus `json:"status,omitempty"`

	// version
	Version   string `json:"version,omitempty"`
	GoVersion string `json:"go_version,omitempty"`

	// error
	Error *WireError `json:"error,omitempty"`
}

// ParseRequest unmarshals and validates a request payload. Failures carry
// the protocol taxonomy kinds so they can be reported back to the host.
func ParseRequest(payload []byte) (*Request, error) {
	if len(payload) == 0 {
		return nil, vsockerr.InvalidMessage
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, vsockerr.Wrap(vsockerr.InvalidJSON, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks structural requirements. Language support and base64
// payload validity are checked at dispatch, where the decoder and runner
// live.
func (r *Request) Validate() error {
	switch r.Type {
	case "":
		return vsockerr.MissingField
	case TypePing, TypeStatus, TypeVersion:
		return nil
	case TypeExec:
		if r.Language == "" || r.Code == "" {
			return vsockerr.MissingField
		}
		if r.TimeoutMS < 0 {
			return vsockerr.InvalidField
		}
		return nil
	default:
		return vsockerr.UnsupportedType
	}
}

// ErrorResponse builds the error response for a failed request.
func ErrorResponse(id string, code vsockerr.Code) *Response {
	return &Response{
		Type: TypeError,
		ID:   id,
		Error: &WireError{
			Kind:    code.Token(),
			Message: code.String(),
		},
	}
}
