package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil)
	cases := map[string]Category{
		"Python":         Language,
		"React.js":       Frontend,
		"Flask API":      Backend,
		"PostgreSQL":     Database,
		"Figma":          UI,
		"Moderator":      Other,
		"Server Booster": Other,
	}
	for name, want := range cases {
		assert.Equal(t, want, c.Classify(name), name)
	}
}

func TestKeywordClassifier_OrderWins(t *testing.T) {
	c := NewKeywordClassifier(map[Category][]string{
		Frontend: {"script"},
		Language: {"java"},
	})
	// language is checked before frontend
	assert.Equal(t, Language, c.Classify("JavaScript"))
}

func TestKeywordClassifier_OtherKeywordsIgnored(t *testing.T) {
	c := NewKeywordClassifier(map[Category][]string{
		Other:   {"python"},
		Backend: {"  API "},
	})
	assert.Equal(t, Other, c.Classify("python"))
	assert.Equal(t, Backend, c.Classify("REST api"))
}

func TestFilter(t *testing.T) {
	c := NewKeywordClassifier(nil)
	names := []string{"Vue", "Rust", "Helper", "Angular"}
	assert.Equal(t, []string{"Angular", "Vue"}, Filter(c, names, Frontend))
	assert.Equal(t, []string{"Helper"}, Filter(c, names, Other))
}
