package route

import (
	"regexp"
	"sort"
	"strings"

	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/errors"
)

// MatchKind is how a rule pattern is compared against a path.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchTemplate
)

// hexIDPattern matches the 24-character hex identifiers used in SPA routes.
const hexIDPattern = `[0-9a-fA-F]{24}`

// Rule maps a path pattern to a category.
type Rule struct {
	Pattern  string
	Kind     MatchKind
	Category Category
	Group    APIGroup

	re *regexp.Regexp
}

// Matches reports whether path satisfies the rule.
func (r *Rule) Matches(path string) bool {
	switch r.Kind {
	case MatchExact:
		return path == r.Pattern || (len(path) > 1 && strings.TrimSuffix(path, "/") == r.Pattern)
	case MatchPrefix:
		return hasPathPrefix(path, r.Pattern)
	case MatchTemplate:
		return r.re != nil && r.re.MatchString(path)
	default:
		return false
	}
}

// hasPathPrefix matches prefix on segment boundaries so "/api/ai" does not
// claim "/api/aim".
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if strings.HasSuffix(prefix, "/") || len(path) == len(prefix) {
		return true
	}
	next := path[len(prefix)]
	return next == '/' || next == '?' || next == '.'
}

// RouteRules is the ordered rule set evaluated by the Classifier.
type RouteRules struct {
	// API holds group prefixes sorted longest first.
	API []Rule
	// APIBase catches API paths that match no group.
	APIBase string
	// SPA holds exact SPA routes followed by templates.
	SPA []Rule
	// ImageExtensions are lower-case extensions including the dot.
	ImageExtensions map[string]struct{}
}

// NewRouteRules compiles rules from route settings.
func NewRouteRules(s conf.RouteSettings) (*RouteRules, error) {
	rules := &RouteRules{
		APIBase:         s.APIBase,
		ImageExtensions: make(map[string]struct{}, len(s.ImageExtensions)),
	}

	for name, prefixes := range s.APIGroups {
		group, ok := ParseAPIGroup(name)
		if !ok {
			return nil, errors.Newf("unknown api group %q", name).
				Component("route").
				Category(errors.CategoryConfiguration).
				Context("group", name).
				Build()
		}
		for _, p := range prefixes {
			rules.API = append(rules.API, Rule{Pattern: p, Kind: MatchPrefix, Category: CategoryAPI, Group: group})
		}
	}
	// Longest prefix first; ties broken by pattern for determinism.
	sort.Slice(rules.API, func(i, j int) bool {
		if len(rules.API[i].Pattern) != len(rules.API[j].Pattern) {
			return len(rules.API[i].Pattern) > len(rules.API[j].Pattern)
		}
		return rules.API[i].Pattern < rules.API[j].Pattern
	})

	for _, p := range s.SPARoutes {
		rules.SPA = append(rules.SPA, Rule{Pattern: p, Kind: MatchExact, Category: CategorySPANavigation})
	}
	for _, tmpl := range s.SPATemplates {
		re, err := compileTemplate(tmpl)
		if err != nil {
			return nil, err
		}
		rules.SPA = append(rules.SPA, Rule{Pattern: tmpl, Kind: MatchTemplate, Category: CategorySPANavigation, re: re})
	}

	for _, ext := range s.ImageExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		rules.ImageExtensions[ext] = struct{}{}
	}
	return rules, nil
}

// compileTemplate turns "/quiz/{id}" into an anchored regexp where each
// {param} segment is a 24-character hex token.
func compileTemplate(tmpl string) (*regexp.Regexp, error) {
	segments := strings.Split(strings.Trim(tmpl, "/"), "/")
	var b strings.Builder
	b.WriteString("^")
	for _, seg := range segments {
		b.WriteString("/")
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			b.WriteString(hexIDPattern)
			continue
		}
		b.WriteString(regexp.QuoteMeta(seg))
	}
	b.WriteString("/?$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.New(err).
			Component("route").
			Category(errors.CategoryConfiguration).
			Context("template", tmpl).
			Build()
	}
	return re, nil
}
