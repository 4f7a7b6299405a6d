// Package turso mirrors episode changes to a remote libSQL database over its
// HTTP pipeline API. The local store is always the source of truth; this
// layer is eventually consistent and at-least-once.
package turso

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/engram-sh/engram/internal/storage"
)

const (
	// DefaultTimeout bounds a single pipeline round trip.
	DefaultTimeout = 10 * time.Second

	pipelinePath = "/v2/pipeline"
)

// remoteSchema is the subset of the local schema that the remote mirror
// needs. INSERT OR REPLACE keyed on the immutable id makes duplicate
// deliveries harmless.
const remoteSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT,
	category TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	deleted INTEGER NOT NULL DEFAULT 0,
	checksum TEXT
)`

// PermanentError is a remote rejection that retrying cannot fix (4xx other
// than 429, or an in-band SQL error). The replicator logs it and drops the
// item; a later sync_all scan picks the row up again.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote rejected request: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote rejected statement: %s", e.Message)
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Stmt is one parameterized SQL statement for the pipeline.
type Stmt struct {
	SQL  string
	Args []interface{}
}

// Client issues parameterized SQL against a libSQL HTTP endpoint. Calls run
// through a circuit breaker so a dead remote fails fast instead of holding
// replication workers on the full timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *log.Logger
}

// NewClient creates a pipeline client. baseURL is the database URL without
// the pipeline path; token is the bearer token.
func NewClient(baseURL, token string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "turso",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("[turso] circuit breaker %s -> %s", from, to)
		},
		IsSuccessful: func(err error) bool {
			// Permanent rejections are the remote working as designed.
			return err == nil || IsPermanent(err)
		},
	})

	return c
}

// Bootstrap creates the remote episodes table if it does not exist.
func (c *Client) Bootstrap(ctx context.Context) error {
	return c.Execute(ctx, []Stmt{{SQL: remoteSchema}})
}

// Execute runs the statements as one pipeline request. Transient failures
// (network, 5xx, 429, open breaker) come back wrapped in
// storage.ErrRemoteUnavailable; permanent rejections as *PermanentError.
func (c *Client) Execute(ctx context.Context, stmts []Stmt) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.execute(ctx, stmts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open", storage.ErrRemoteUnavailable)
	}
	return err
}

func (c *Client) execute(ctx context.Context, stmts []Stmt) error {
	type pipelineStmt struct {
		SQL  string        `json:"sql"`
		Args []pipelineArg `json:"args,omitempty"`
	}
	type pipelineRequest struct {
		Type string        `json:"type"`
		Stmt *pipelineStmt `json:"stmt,omitempty"`
	}

	reqs := make([]pipelineRequest, 0, len(stmts)+1)
	for _, s := range stmts {
		args, err := encodeArgs(s.Args)
		if err != nil {
			return &PermanentError{Message: err.Error()}
		}
		reqs = append(reqs, pipelineRequest{
			Type: "execute",
			Stmt: &pipelineStmt{SQL: s.SQL, Args: args},
		})
	}
	reqs = append(reqs, pipelineRequest{Type: "close"})

	body, err := json.Marshal(map[string]interface{}{"requests": reqs})
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("encode pipeline: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+pipelinePath, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", storage.ErrRemoteUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", storage.ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return &PermanentError{StatusCode: resp.StatusCode, Message: truncate(string(respBody), 200)}
	}

	var parsed struct {
		Results []struct {
			Type  string `json:"type"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("%w: decode pipeline response: %v", storage.ErrRemoteUnavailable, err)
	}
	for _, r := range parsed.Results {
		if r.Type == "error" {
			msg := "unknown error"
			if r.Error != nil {
				msg = r.Error.Message
			}
			return &PermanentError{Message: msg}
		}
	}
	return nil
}

// pipelineArg is a typed value in the libSQL wire format.
type pipelineArg struct {
	Type   string      `json:"type"`
	Value  interface{} `json:"value,omitempty"`
	Base64 string      `json:"base64,omitempty"`
}

func encodeArgs(args []interface{}) ([]pipelineArg, error) {
	out := make([]pipelineArg, 0, len(args))
	for _, a := range args {
		enc, err := encodeArg(a)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func encodeArg(v interface{}) (pipelineArg, error) {
	switch t := v.(type) {
	case nil:
		return pipelineArg{Type: "null"}, nil
	case string:
		return pipelineArg{Type: "text", Value: t}, nil
	case bool:
		n := 0
		if t {
			n = 1
		}
		return pipelineArg{Type: "integer", Value: strconv.Itoa(n)}, nil
	case int:
		return pipelineArg{Type: "integer", Value: strconv.Itoa(t)}, nil
	case int64:
		return pipelineArg{Type: "integer", Value: strconv.FormatInt(t, 10)}, nil
	case float64:
		return pipelineArg{Type: "float", Value: t}, nil
	case []byte:
		return pipelineArg{Type: "blob", Base64: base64.StdEncoding.EncodeToString(t)}, nil
	case time.Time:
		return pipelineArg{Type: "text", Value: t.UTC().Format(time.RFC3339Nano)}, nil
	default:
		return pipelineArg{}, fmt.Errorf("unsupported argument type %T", v)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
