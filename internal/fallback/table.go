// Package fallback synthesizes canned responses for API groups that cannot
// reach the network and have no cached copy.
package fallback

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/route"
)

// Template is the status and body returned for one API group.
type Template struct {
	Status int            `yaml:"status" json:"status"`
	Body   map[string]any `yaml:"body" json:"body"`
}

// Table maps API groups to templates.
type Table map[route.APIGroup]Template

const offlineMessage = "You are offline. Showing saved data where available."

func readOnly(body map[string]any) Template {
	body["cached"] = true
	body["offline"] = true
	body["message"] = offlineMessage
	return Template{Status: 200, Body: body}
}

func unavailable(feature string) Template {
	return Template{
		Status: 503,
		Body: map[string]any{
			"offline": true,
			"error":   "offline",
			"message": feature + " is not available offline.",
		},
	}
}

// DefaultTable returns a fresh copy of the built-in templates. Every group
// in route.AllGroups has an entry.
func DefaultTable() Table {
	return Table{
		route.GroupQuizData: readOnly(map[string]any{
			"quizzes": []any{},
			"total":   0,
		}),
		route.GroupUserProfile: readOnly(map[string]any{
			"user":        map[string]any{},
			"preferences": map[string]any{},
		}),
		route.GroupDashboard: readOnly(map[string]any{
			"stats": map[string]any{
				"quizzesTaken": 0,
				"averageScore": 0,
				"streak":       0,
				"points":       0,
			},
			"recentActivity": []any{},
		}),
		route.GroupReports: readOnly(map[string]any{
			"reports": []any{},
			"total":   0,
		}),
		route.GroupAchievements: readOnly(map[string]any{
			"achievements": []any{},
			"unlocked":     0,
		}),
		route.GroupLeaderboard: readOnly(map[string]any{
			"leaderboard": []any{},
			"userRank":    nil,
		}),
		route.GroupGamification: readOnly(map[string]any{
			"points": 0,
			"level":  0,
			"streak": 0,
			"badges": []any{},
		}),
		route.GroupAIAssistant: unavailable("The AI assistant"),
		route.GroupRealtime:    unavailable("Live updates"),
		route.GroupSocial: readOnly(map[string]any{
			"friends":  []any{},
			"activity": []any{},
		}),
		route.GroupAnalytics: readOnly(map[string]any{
			"events":  []any{},
			"summary": map[string]any{},
		}),
		route.GroupDiagnostics: readOnly(map[string]any{
			"status": "offline",
			"checks": []any{},
		}),
	}
}

// LoadTable reads YAML overrides keyed by group name and merges them over
// DefaultTable. An override replaces the whole template of its group.
//
//	leaderboard:
//	  status: 200
//	  body: {leaderboard: [], cached: true}
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read fallback table: %w", err)).
			Component("fallback").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return ParseTable(data)
}

// ParseTable is LoadTable on an in-memory document.
func ParseTable(data []byte) (Table, error) {
	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(fmt.Errorf("failed to parse fallback table: %w", err)).
			Component("fallback").
			Category(errors.CategoryConfiguration).
			Build()
	}

	table := DefaultTable()
	for name, tmpl := range raw {
		group, ok := route.ParseAPIGroup(name)
		if !ok {
			return nil, errors.Newf("unknown api group %q in fallback table", name).
				Component("fallback").
				Category(errors.CategoryValidation).
				Build()
		}
		if tmpl.Status < 100 || tmpl.Status > 599 {
			return nil, errors.Newf("invalid status %d for api group %q", tmpl.Status, name).
				Component("fallback").
				Category(errors.CategoryValidation).
				Build()
		}
		if tmpl.Body == nil {
			tmpl.Body = map[string]any{}
		}
		table[group] = tmpl
	}
	return table, nil
}
