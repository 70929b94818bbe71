// Package stratum implements the client side of the line-delimited
// JSON-RPC mining protocol: message framing, job notifications and
// share submission.
package stratum

import (
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
)

// Protocol method names.
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodSubmit        = "submit"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
	MethodBlockFound    = "block_found"
)

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID      any    `json:"id"`
	JSONRPC string `json:"jsonrpc,omitempty"`
	Method  string `json:"method,omitempty"`
	Params  any    `json:"params,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a Stratum error response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// SubmitParams is the XMRig-style share submission payload.
type SubmitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}

// SubscribeResult captures the useful parts of a subscribe response
// array: [subscriptions, extranonce1, extranonce2_size].
type SubscribeResult struct {
	ExtraNonce1     string
	ExtraNonce2Size int
}

// JobNotification is a decoded mining.notify payload.
type JobNotification struct {
	JobID      string
	Blob       []byte
	SeedHash   string
	NextSeed   string
	Height     uint64
	Difficulty uint64
	CleanJobs  bool
}

// ParseMessage parses a JSON-RPC message from one line
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id uint64, method string, params any) *Message {
	return &Message{
		ID:      id,
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}

// IsNotification returns true if the message is a server push
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse returns true if the message answers one of our requests
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// ResponseID extracts the numeric id of a response. JSON numbers arrive
// as float64.
func (m *Message) ResponseID() (uint64, bool) {
	switch v := m.ID.(type) {
	case float64:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		return uint64(v), true
	default:
		return 0, false
	}
}

// Accepted reports whether a response marks a share as accepted:
// result == true, or a result object with status "OK", and no error.
func (m *Message) Accepted() bool {
	if m.Error != nil {
		return false
	}
	switch r := m.Result.(type) {
	case bool:
		return r
	case map[string]any:
		status, _ := r["status"].(string)
		return status == "OK"
	default:
		return false
	}
}

// FormatNonce renders a nonce as 8 lowercase hex characters.
func FormatNonce(nonce uint32) string {
	return fmt.Sprintf("%08x", nonce)
}

// FormatDigest renders a digest as 64 lowercase hex characters.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}

// ParseSubscribeResult parses a subscribe response result
// [subscriptions, extranonce1, extranonce2_size]. All fields optional;
// pools vary.
func ParseSubscribeResult(result any) *SubscribeResult {
	res := &SubscribeResult{}

	arr, ok := result.([]any)
	if !ok {
		return res
	}
	if len(arr) > 1 {
		if en1, ok := arr[1].(string); ok {
			res.ExtraNonce1 = en1
		}
	}
	if len(arr) > 2 {
		if size, ok := arr[2].(float64); ok {
			res.ExtraNonce2Size = int(size)
		}
	}
	return res
}

// ParseJobNotification decodes mining.notify params. Pools send either
// the positional array form
// [job_id, blob, seed_hash, next_seed_hash, height, difficulty, clean_jobs]
// or an object with the same field names.
func ParseJobNotification(params any) (*JobNotification, error) {
	switch p := params.(type) {
	case []any:
		return parseJobArray(p)
	case map[string]any:
		return parseJobObject(p)
	default:
		return nil, fmt.Errorf("unsupported notify params type %T", params)
	}
}

func parseJobArray(arr []any) (*JobNotification, error) {
	if len(arr) < 2 {
		return nil, fmt.Errorf("notify array too short: %d elements", len(arr))
	}

	job := &JobNotification{}

	jobID, ok := arr[0].(string)
	if !ok {
		return nil, fmt.Errorf("job_id must be string")
	}
	job.JobID = jobID

	blobHex, ok := arr[1].(string)
	if !ok {
		return nil, fmt.Errorf("blob must be string")
	}
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return nil, fmt.Errorf("invalid blob hex: %w", err)
	}
	job.Blob = blob

	if len(arr) > 2 {
		job.SeedHash, _ = arr[2].(string)
	}
	if len(arr) > 3 {
		job.NextSeed, _ = arr[3].(string)
	}
	if len(arr) > 4 {
		if h, ok := arr[4].(float64); ok {
			job.Height = uint64(h)
		}
	}
	if len(arr) > 5 {
		if d, ok := arr[5].(float64); ok {
			job.Difficulty = uint64(d)
		}
	}
	if len(arr) > 6 {
		job.CleanJobs, _ = arr[6].(bool)
	}

	return job, nil
}

func parseJobObject(obj map[string]any) (*JobNotification, error) {
	job := &JobNotification{}

	jobID, ok := obj["job_id"].(string)
	if !ok {
		return nil, fmt.Errorf("job_id must be string")
	}
	job.JobID = jobID

	blobHex, ok := obj["blob"].(string)
	if !ok {
		return nil, fmt.Errorf("blob must be string")
	}
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return nil, fmt.Errorf("invalid blob hex: %w", err)
	}
	job.Blob = blob

	job.SeedHash, _ = obj["seed_hash"].(string)
	job.NextSeed, _ = obj["next_seed_hash"].(string)
	if h, ok := obj["height"].(float64); ok {
		job.Height = uint64(h)
	}
	if d, ok := obj["difficulty"].(float64); ok {
		job.Difficulty = uint64(d)
	}
	job.CleanJobs, _ = obj["clean_jobs"].(bool)

	return job, nil
}
