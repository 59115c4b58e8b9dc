package route

import (
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
)

// Classifier maps requests to categories. It is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	rules           *RouteRules
	excludedSchemes []string
	origin          *url.URL
}

// NewClassifier creates a classifier. excludedSchemes are passed through
// untouched; when origin is non-nil, requests for other hosts pass through too.
func NewClassifier(rules *RouteRules, excludedSchemes []string, origin *url.URL) *Classifier {
	return &Classifier{
		rules:           rules,
		excludedSchemes: excludedSchemes,
		origin:          origin,
	}
}

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Classify assigns exactly one category to a request. destination mirrors the
// Sec-Fetch-Dest header ("image", "document", ...) and may be empty.
func (c *Classifier) Classify(method, rawURL, destination string) Classification {
	if method != http.MethodGet {
		return Classification{Category: CategoryPassThrough}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Classification{Category: CategoryPassThrough}
	}
	if u.Scheme != "" && slices.Contains(c.excludedSchemes, strings.ToLower(u.Scheme)) {
		return Classification{Category: CategoryPassThrough}
	}
	if c.origin != nil && u.Host != "" && !strings.EqualFold(u.Host, c.origin.Host) {
		return Classification{Category: CategoryPassThrough}
	}

	p := u.Path
	if p == "" {
		p = "/"
	}

	for i := range c.rules.API {
		if c.rules.API[i].Matches(p) {
			return Classification{Category: CategoryAPI, Group: c.rules.API[i].Group}
		}
	}
	if c.rules.APIBase != "" && hasPathPrefix(p, c.rules.APIBase) {
		return Classification{Category: CategoryAPI, Group: GroupUnknown}
	}

	if destination == "image" {
		return Classification{Category: CategoryImage}
	}
	if _, ok := c.rules.ImageExtensions[strings.ToLower(path.Ext(p))]; ok {
		return Classification{Category: CategoryImage}
	}

	for i := range c.rules.SPA {
		if c.rules.SPA[i].Matches(p) {
			return Classification{Category: CategorySPANavigation}
		}
	}

	return Classification{Category: CategoryStaticAsset}
}

// ClassifyRequest classifies an *http.Request using its Sec-Fetch-Dest header.
func (c *Classifier) ClassifyRequest(req *http.Request) Classification {
	return c.Classify(req.Method, req.URL.String(), req.Header.Get("Sec-Fetch-Dest"))
}

// IsNavigation reports whether req is a top-level page navigation.
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
