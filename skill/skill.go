package skill

import (
	"sort"
	"strings"
)

type Category string

const (
	Language Category = "language"
	Frontend Category = "frontend"
	Backend  Category = "backend"
	Database Category = "database"
	UI       Category = "ui"
	Other    Category = "other"
)

// Categories is the fixed menu order.
var Categories = []Category{Language, Frontend, Backend, Database, UI, Other}

var labels = map[Category]string{
	Language: "Programming languages",
	Frontend: "Front-end",
	Backend:  "Back-end",
	Database: "Databases",
	UI:       "UI / design",
	Other:    "Other",
}

func (c Category) Label() string {
	if l, ok := labels[c]; ok {
		return l
	}
	return string(c)
}

func (c Category) Valid() bool {
	_, ok := labels[c]
	return ok
}

type Classifier interface {
	Classify(name string) Category
}

// DefaultKeywords is used when configuration provides none.
var DefaultKeywords = map[Category][]string{
	Language: {"python", "javascript", "typescript", "java", "c#", "c++", "golang", "rust", "php", "ruby", "kotlin", "swift", "lua"},
	Frontend: {"react", "vue", "angular", "svelte", "next", "html", "css", "tailwind", "frontend", "front-end"},
	Backend:  {"node", "express", "django", "flask", "spring", "laravel", "fastapi", "backend", "back-end", "api"},
	Database: {"sql", "postgres", "mysql", "mongo", "redis", "sqlite", "database", "firebase"},
	UI:       {"ui", "ux", "figma", "design", "photoshop", "illustrator"},
}

// KeywordClassifier matches names case-insensitively against keyword lists,
// trying categories in menu order. Names matching nothing are Other.
type KeywordClassifier struct {
	keywords map[Category][]string
}

func NewKeywordClassifier(keywords map[Category][]string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	norm := make(map[Category][]string, len(keywords))
	for cat, words := range keywords {
		if cat == Other {
			continue
		}
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				norm[cat] = append(norm[cat], w)
			}
		}
	}
	return &KeywordClassifier{keywords: norm}
}

func (k *KeywordClassifier) Classify(name string) Category {
	lower := strings.ToLower(name)
	for _, cat := range Categories {
		for _, w := range k.keywords[cat] {
			if strings.Contains(lower, w) {
				return cat
			}
		}
	}
	return Other
}

// Filter returns the names c classifies into cat, sorted.
func Filter(c Classifier, names []string, cat Category) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if c.Classify(n) == cat {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
