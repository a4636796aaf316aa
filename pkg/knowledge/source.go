package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

const (
	chunkMaxSize = 1000
	chunkOverlap = 50
)

// sourceSchema is the shape every JSON knowledge source must have: a
// non-empty object of named sections.
var sourceSchema = gojsonschema.NewGoLoader(map[string]interface{}{
	"type":          "object",
	"minProperties": 1,
})

func isSourceFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt", ".json":
		return true
	}
	return false
}

// LoadFile reads one source file and splits it into passages. ref is the
// path used in SourceRef, normally relative to the knowledge root.
func LoadFile(path, ref string) ([]Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSource(ref, data)
}

// ParseSource splits raw source content into passages, choosing the format
// from the extension of ref.
func ParseSource(ref string, data []byte) ([]Passage, error) {
	if strings.EqualFold(filepath.Ext(ref), ".json") {
		return parseJSONSource(ref, data)
	}
	return chunkDocument(ref, string(data)), nil
}

func parseJSONSource(ref string, data []byte) ([]Passage, error) {
	result, err := gojsonschema.Validate(sourceSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid JSON: %w", ref, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("%s: %s", ref, strings.Join(errs, "; "))
	}

	var sections map[string]interface{}
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var passages []Passage
	for _, name := range names {
		text := renderSection(name, sections[name])
		if text == "" {
			continue
		}
		sourceRef := ref + "#" + name
		for _, chunk := range chunkText(text, chunkMaxSize, chunkOverlap) {
			passages = append(passages, Passage{Text: chunk, SourceRef: sourceRef})
		}
	}
	return passages, nil
}

// renderSection flattens a section into "path: value" lines, leading with
// its semantic_description when present.
func renderSection(name string, value interface{}) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("\n")

	if obj, ok := value.(map[string]interface{}); ok {
		if desc, ok := obj["semantic_description"].(string); ok && desc != "" {
			b.WriteString(desc)
			b.WriteString("\n")
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			if k != "semantic_description" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(&b, k, obj[k])
		}
	} else {
		flatten(&b, "", value)
	}
	return strings.TrimSpace(b.String())
}

func flatten(b *strings.Builder, prefix string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(b, joinPath(prefix, k), v[k])
		}
	case []interface{}:
		for i, item := range v {
			flatten(b, joinPath(prefix, strconv.Itoa(i+1)), item)
		}
	case nil:
	default:
		if prefix != "" {
			b.WriteString(prefix)
			b.WriteString(": ")
		}
		b.WriteString(scalarString(v))
		b.WriteString("\n")
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalarString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

func chunkDocument(ref, content string) []Passage {
	chunks := chunkText(content, chunkMaxSize, chunkOverlap)
	passages := make([]Passage, 0, len(chunks))
	for i, c := range chunks {
		passages = append(passages, Passage{Text: c, SourceRef: fmt.Sprintf("%s#%d", ref, i)})
	}
	return passages
}

// chunkText splits content on line boundaries into chunks of at most maxSize
// bytes (a single longer line stays whole), carrying overlap bytes of the
// previous chunk into the next.
func chunkText(content string, maxSize, overlap int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			chunks = append(chunks, text)
		}
	}

	content = strings.TrimRight(content, " \t\r\n")
	for _, line := range strings.Split(content, "\n") {
		lineLen := len(line) + 1
		if current.Len() > 0 && current.Len()+lineLen > maxSize {
			flush()
			tail := overlapTail(current.String(), overlap)
			current.Reset()
			current.WriteString(tail)
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return chunks
}

// overlapTail returns the last n bytes of s, moved forward to a rune start.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
