package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RPC accesses a workspace through a remote gateway's files API. It mirrors
// Local's semantics so callers can swap one for the other.
type RPC struct {
	baseURL string
	client  *http.Client
}

var _ Accessor = (*RPC)(nil)

// NewRPC builds a remote accessor against baseURL, e.g.
// "http://127.0.0.1:8000". timeout bounds each individual call.
func NewRPC(baseURL string, timeout time.Duration) *RPC {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPC{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *RPC) fileURL(scope, path string) string {
	u := r.baseURL + "/files/" + url.PathEscape(scope)
	if path != "" {
		parts := strings.Split(path, "/")
		for i, p := range parts {
			parts[i] = url.PathEscape(p)
		}
		u += "/" + strings.Join(parts, "/")
	}
	return u
}

// decodeError turns a non-2xx files API response into the error the local
// accessor would have returned.
func decodeError(resp *http.Response, scope, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s", ErrNotFound, scope, path)
	case http.StatusForbidden:
		if strings.Contains(msg, "read-only") {
			return readOnlyErr(scope)
		}
		return fmt.Errorf("access denied: %s", msg)
	default:
		return fmt.Errorf("files api: %d: %s", resp.StatusCode, msg)
	}
}

func (r *RPC) do(req *http.Request, scope, path string) (*http.Response, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("files api request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, scope, path)
	}
	return resp, nil
}

func (r *RPC) Read(scope, path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, r.fileURL(scope, path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.do(req, scope, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

func (r *RPC) Write(scope, path string, content []byte) error {
	req, err := http.NewRequest(http.MethodPut, r.fileURL(scope, path), bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := r.do(req, scope, path)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (r *RPC) List(scope string) ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, r.fileURL(scope, ""), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.do(req, scope, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var payload struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("files api list: %w", err)
	}
	return payload.Files, nil
}

func (r *RPC) Delete(scope, path string) error {
	req, err := http.NewRequest(http.MethodDelete, r.fileURL(scope, path), nil)
	if err != nil {
		return err
	}
	resp, err := r.do(req, scope, path)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (r *RPC) Rename(scope, oldPath, newPath string) error {
	body, err := json.Marshal(map[string]string{"old_path": oldPath, "new_path": newPath})
	if err != nil {
		return err
	}
	u := r.baseURL + "/files/" + url.PathEscape(scope) + "/rename"
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.do(req, scope, oldPath)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (r *RPC) Exec(ctx context.Context, scope, command string) (string, error) {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return "", err
	}
	u := r.baseURL + "/exec/" + url.PathEscape(scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.do(req, scope, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	var payload struct {
		Output string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("files api exec: %w", err)
	}
	return payload.Output, nil
}
