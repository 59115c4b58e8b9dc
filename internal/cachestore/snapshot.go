// Package cachestore manages the named, versioned response caches.
package cachestore

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HeaderCache marks responses served from a cache store.
const (
	HeaderCache      = "X-Cache"
	HeaderCapturedAt = "X-Cache-Captured-At"
	CacheHit         = "HIT"
)

// Snapshot is an immutable copy of a response. A response body can be read
// once, so the cache always stores and serves snapshots.
type Snapshot struct {
	Status     int
	Header     http.Header
	Body       []byte
	CapturedAt time.Time
}

// Capture reads resp's body into a snapshot and replaces resp.Body with an
// unread copy so the caller can still return resp.
func Capture(resp *http.Response) (*Snapshot, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	return &Snapshot{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CapturedAt: time.Now(),
	}, nil
}

// Response materializes a fresh *http.Response for req. Each call returns an
// independent body reader.
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(s.Status) + " " + http.StatusText(s.Status),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// HitResponse is Response with the cache-hit markers set.
func (s *Snapshot) HitResponse(req *http.Request) *http.Response {
	resp := s.Response(req)
	resp.Header.Set(HeaderCache, CacheHit)
	resp.Header.Set(HeaderCapturedAt, s.CapturedAt.UTC().Format(time.RFC3339))
	return resp
}

// Size returns the body length in bytes.
func (s *Snapshot) Size() int64 {
	return int64(len(s.Body))
}

// Key returns the cache key of a request: method plus path and query.
// Scheme, host and fragment are not part of the identity.
func Key(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return method + " " + rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return method + " " + u.RequestURI()
}

// RequestKey returns Key for req.
func RequestKey(req *http.Request) string {
	return Key(req.Method, req.URL.String())
}
