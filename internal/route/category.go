// Package route classifies intercepted requests into caching categories.
package route

import "fmt"

// Category selects the caching strategy for a request.
type Category int

const (
	// CategoryPassThrough requests bypass caching entirely (non-GET methods,
	// excluded schemes, foreign origins).
	CategoryPassThrough Category = iota
	CategoryAPI
	CategoryImage
	CategoryStaticAsset
	CategorySPANavigation
)

func (c Category) String() string {
	switch c {
	case CategoryPassThrough:
		return "pass-through"
	case CategoryAPI:
		return "api"
	case CategoryImage:
		return "image"
	case CategoryStaticAsset:
		return "static-asset"
	case CategorySPANavigation:
		return "spa-navigation"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// APIGroup is the endpoint group of an API request. It keys the fallback table.
type APIGroup int

const (
	// GroupUnknown is an API path under the API base that matched no group.
	GroupUnknown APIGroup = iota
	GroupQuizData
	GroupUserProfile
	GroupDashboard
	GroupReports
	GroupAchievements
	GroupLeaderboard
	GroupGamification
	GroupAIAssistant
	GroupRealtime
	GroupSocial
	GroupAnalytics
	GroupDiagnostics
)

var groupNames = map[APIGroup]string{
	GroupUnknown:      "unknown",
	GroupQuizData:     "quiz-data",
	GroupUserProfile:  "user-profile",
	GroupDashboard:    "dashboard",
	GroupReports:      "reports",
	GroupAchievements: "achievements",
	GroupLeaderboard:  "leaderboard",
	GroupGamification: "gamification",
	GroupAIAssistant:  "ai-assistant",
	GroupRealtime:     "realtime",
	GroupSocial:       "social",
	GroupAnalytics:    "analytics",
	GroupDiagnostics:  "diagnostics",
}

func (g APIGroup) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return fmt.Sprintf("group(%d)", int(g))
}

// ParseAPIGroup maps a configured group name to its APIGroup.
func ParseAPIGroup(name string) (APIGroup, bool) {
	for g, n := range groupNames {
		if n == name && g != GroupUnknown {
			return g, true
		}
	}
	return GroupUnknown, false
}

// AllGroups returns every known group except GroupUnknown, in declaration order.
func AllGroups() []APIGroup {
	groups := make([]APIGroup, 0, len(groupNames)-1)
	for g := GroupQuizData; g <= GroupDiagnostics; g++ {
		groups = append(groups, g)
	}
	return groups
}

// Classification is the result of classifying one request.
type Classification struct {
	Category Category
	Group    APIGroup // meaningful only for CategoryAPI
}

func (c Classification) String() string {
	if c.Category == CategoryAPI {
		return c.Category.String() + "/" + c.Group.String()
	}
	return c.Category.String()
}
