// Package keywords loads the casino keyword index used by the
// description checks.
package keywords

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Index maps an uppercase casino name to its ordered, de-duplicated
// uppercase keywords. It is immutable once loaded and safe to share.
type Index struct {
	entries map[string][]string
}

type fileFormat struct {
	Data []struct {
		Name    string `json:"name"`
		Keyword string `json:"keyword"`
	} `json:"data"`
}

// New builds an index from name → keywords pairs.
func New(entries map[string][]string) *Index {
	idx := &Index{entries: make(map[string][]string, len(entries))}
	for name, kws := range entries {
		idx.add(name, kws)
	}
	return idx
}

// Load reads the {"data":[{"name":..,"keyword":"a, b"}]} document.
func Load(r io.Reader) (*Index, error) {
	var doc fileFormat
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode keyword index: %w", err)
	}

	idx := &Index{entries: make(map[string][]string, len(doc.Data))}
	for _, item := range doc.Data {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		idx.add(item.Name, strings.Split(item.Keyword, ","))
	}
	return idx, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (idx *Index) add(name string, kws []string) {
	key := normalizeName(name)
	existing := idx.entries[key]
	for _, kw := range kws {
		kw = strings.ToUpper(strings.TrimSpace(kw))
		if kw == "" || contains(existing, kw) {
			continue
		}
		existing = append(existing, kw)
	}
	if len(existing) > 0 {
		idx.entries[key] = existing
	}
}

// For returns the keywords registered for a casino name, or nil.
func (idx *Index) For(name string) []string {
	if idx == nil {
		return nil
	}
	return idx.entries[normalizeName(name)]
}

// Len returns the number of casinos with keywords.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// MatchAny returns the first keyword of name contained in text.
// text must already be uppercase.
func (idx *Index) MatchAny(name, text string) (string, bool) {
	for _, kw := range idx.For(name) {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
