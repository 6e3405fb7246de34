package classify

import "strings"

// Category labels assigned to tracked applications. The mapper's scoring
// matches on substrings of these, so the exact casing is not significant.
const (
	CategorySocial        = "Social"
	CategoryProductivity  = "Productivity"
	CategoryGaming        = "Gaming"
	CategoryBrowser       = "Browser"
	CategoryEntertainment = "Entertainment"
	CategoryEducation     = "Education"
)

// categoryPatterns maps lowercase package-id substrings to a category,
// checked in order. First match wins.
var categoryPatterns = []struct {
	patterns []string
	category string
}{
	{[]string{"social", "facebook", "instagram", "twitter", "tiktok", "snapchat"}, CategorySocial},
	{[]string{"work", "office", "productivity", "docs", "sheets", "slack"}, CategoryProductivity},
	{[]string{"game", "play"}, CategoryGaming},
	{[]string{"browser", "chrome", "firefox"}, CategoryBrowser},
	{[]string{"netflix", "youtube", "spotify", "video", "music"}, CategoryEntertainment},
	{[]string{"edu", "learn", "news"}, CategoryEducation},
}

// Category derives an app category from its package identifier. Returns the
// empty string when no pattern matches.
func Category(appPackage string) string {
	pkg := strings.ToLower(appPackage)
	for _, entry := range categoryPatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(pkg, pattern) {
				return entry.category
			}
		}
	}
	return ""
}

// IsLauncher reports whether the package looks like a launcher/home-screen
// app. The patterns are configurable because launcher naming varies by
// vendor; matching is case-insensitive substring containment.
func IsLauncher(appPackage string, patterns []string) bool {
	pkg := strings.ToLower(appPackage)
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(pkg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
