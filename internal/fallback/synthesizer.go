package fallback

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/studyquest/offline-engine/internal/route"
)

// HeaderFallback marks synthesized responses.
const HeaderFallback = "X-Offline-Fallback"

//go:embed offline.html
var offlinePage []byte

// placeholderSVG is served for images that are neither cached nor reachable.
var placeholderSVG = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"/>`)

// Result is a rendered template.
type Result struct {
	Group  route.APIGroup
	Status int
	Body   []byte
}

// Response materializes r for req. Each call has its own body reader.
func (r Result) Response(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(HeaderFallback, "1")
	return newResponse(req, r.Status, header, r.Body)
}

// Synthesizer renders fallback templates. Bodies are encoded once at
// construction so every call for a group yields identical bytes.
type Synthesizer struct {
	rendered map[route.APIGroup]Result
}

// NewSynthesizer renders table.
func NewSynthesizer(table Table) (*Synthesizer, error) {
	s := &Synthesizer{rendered: make(map[route.APIGroup]Result, len(table))}
	for group, tmpl := range table {
		body, err := json.Marshal(tmpl.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fallback for %s: %w", group, err)
		}
		s.rendered[group] = Result{Group: group, Status: tmpl.Status, Body: body}
	}
	return s, nil
}

// Synthesize returns the canned response for group. It reports false for a
// group without a template, in which case the caller must propagate the
// original network error.
func (s *Synthesizer) Synthesize(group route.APIGroup) (Result, bool) {
	r, ok := s.rendered[group]
	return r, ok
}

// OfflinePage is the page served to navigations with neither network nor a
// cached shell.
func OfflinePage(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	header.Set(HeaderFallback, "1")
	return newResponse(req, http.StatusOK, header, offlinePage)
}

// OfflinePageHTML returns a copy of the offline page markup.
func OfflinePageHTML() []byte {
	return bytes.Clone(offlinePage)
}

// PlaceholderImage is the not-found response for unreachable images.
func PlaceholderImage(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "image/svg+xml")
	header.Set("Cache-Control", "no-store")
	header.Set(HeaderFallback, "1")
	return newResponse(req, http.StatusNotFound, header, placeholderSVG)
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
