// Package push parses inbound push payloads and relays notifications.
package push

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/studyquest/offline-engine/internal/errors"
)

// Defaults fill fields absent from a payload.
type Defaults struct {
	Title string
	Body  string
	URL   string
}

// Notification is a parsed push message.
type Notification struct {
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
	target string
	root   string
}

type payload struct {
	Title *string        `json:"title"`
	Body  *string        `json:"body"`
	Data  map[string]any `json:"data"`
}

// ParsePayload decodes raw. Every field is optional; an empty payload yields
// the defaults. An undecodable payload also yields the defaults together
// with the decode error.
func ParsePayload(raw []byte, d Defaults) (Notification, error) {
	n := Notification{Title: d.Title, Body: d.Body, root: d.URL}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return n, nil
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return n, errors.New(fmt.Errorf("invalid push payload: %w", err)).
			Component("push").
			Category(errors.CategoryValidation).
			Build()
	}
	if p.Title != nil && *p.Title != "" {
		n.Title = *p.Title
	}
	if p.Body != nil && *p.Body != "" {
		n.Body = *p.Body
	}
	n.Data = p.Data
	for _, key := range []string{"url", "target"} {
		if s, ok := p.Data[key].(string); ok && s != "" {
			n.target = s
			break
		}
	}
	return n, nil
}

// ClickTarget is the single navigation performed when the notification is
// activated: the deep link if it is a same-origin path, otherwise the root.
func (n Notification) ClickTarget() string {
	if isLocalPath(n.target) {
		return n.target
	}
	if isLocalPath(n.root) {
		return n.root
	}
	return "/"
}

// isLocalPath accepts absolute paths and rejects scheme-relative and
// absolute URLs.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}
