// Package content resolves content references against an IPFS HTTP gateway.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

// httpNewRequest is a test seam for request construction failures.
var httpNewRequest = http.NewRequestWithContext

// maxDocumentBytes caps a fetched JSON document.
const maxDocumentBytes = 8 << 20

var ErrEmptyRef = errors.New("content reference is required")

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code int
	Op   string
}

func (e *StatusError) Error() string { return fmt.Sprintf("ipfs gateway %s http %d", e.Op, e.Code) }

// ValidateRef checks that ref parses as a CID (v0 or v1).
func ValidateRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ErrEmptyRef
	}
	if _, err := cid.Decode(ref); err != nil {
		return fmt.Errorf("not a valid CID: %w", err)
	}
	return nil
}

// Gateway is a read-only client for https://<host>/ipfs/<cid>.
type Gateway struct {
	base *url.URL
	hc   *http.Client
}

// NewGateway parses base; a nil client gets a 15s timeout.
func NewGateway(base string, hc *http.Client) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url: unsupported scheme %q", u.Scheme)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Gateway{base: u, hc: hc}, nil
}

// URL returns the gateway link for ref, or "" for an empty ref.
func (g *Gateway) URL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	return g.base.JoinPath("ipfs", ref).String()
}

// Fetch downloads ref and decodes it as JSON into out.
func (g *Gateway) Fetch(ctx context.Context, ref string, out any) error {
	if strings.TrimSpace(ref) == "" {
		return ErrEmptyRef
	}
	req, err := httpNewRequest(ctx, http.MethodGet, g.URL(ref), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := g.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Op: "fetch"}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

// Exists issues a HEAD for ref. A 404 is (false, nil); other failures return
// the error.
func (g *Gateway) Exists(ctx context.Context, ref string) (bool, error) {
	if strings.TrimSpace(ref) == "" {
		return false, nil
	}
	req, err := httpNewRequest(ctx, http.MethodHead, g.URL(ref), nil)
	if err != nil {
		return false, err
	}
	resp, err := g.hc.Do(req)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode/100 == 2:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	}
	return false, &StatusError{Code: resp.StatusCode, Op: "head"}
}
