package command

import (
	"encoding/json"
	"fmt"
)

// Response status tags.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Pseudo command names echoed in error responses when no real command could
// be identified.
const (
	// CommandParse tags responses to unparsable request lines.
	CommandParse = "parse"
	// CommandUnknown tags responses to unrecognized command names.
	CommandUnknown = "unknown"
)

// Request is one decoded JSON command. Byte, address and length fields are
// hexadecimal strings ("0x55"); absent fields default per command.
type Request struct {
	Command   string `json:"command"`
	Data      string `json:"data,omitempty"`
	DevAddr   string `json:"dev_addr,omitempty"`
	StartAddr string `json:"start_addr,omitempty"`
	Len       string `json:"len,omitempty"`
	Speed     string `json:"speed,omitempty"`
}

// Response is the reply to one Request. Payload is "ACK"/"NACK", a hex byte
// string, a hex 32-bit id string, an array of hex byte strings, or a
// human-readable error message.
type Response struct {
	Status   string `json:"status"`
	Command  string `json:"command"`
	Response any    `json:"response"`
}

// DecodeRequest parses one JSON request line.
func DecodeRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("command: decode request: %w", err)
	}

	return &req, nil
}

// Encode serializes the response as a single JSON line without the trailing
// newline.
func (r *Response) Encode() ([]byte, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("command: encode response: %w", err)
	}

	return out, nil
}

// Success builds a success response echoing the originating command name.
func Success(cmd string, payload any) *Response {
	return &Response{Status: StatusSuccess, Command: cmd, Response: payload}
}

// Error builds an error response echoing the originating command name.
func Error(cmd string, msg string) *Response {
	return &Response{Status: StatusError, Command: cmd, Response: msg}
}
