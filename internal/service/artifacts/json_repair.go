package artifacts

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	errNoJSON      = errors.New("model output contains no JSON")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes    = strings.NewReplacer("“", `"`, "”", `"`)
)

// decodeModelJSON unmarshals the JSON value embedded in a model reply. Models wrap
// JSON in markdown fences, add prose around it, leave trailing commas or use curly
// quotes; each of those is undone before giving up.
func decodeModelJSON(reply string, v interface{}) error {
	body, err := extractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}
	repaired := trailingCommas.ReplaceAllString(smartQuotes.Replace(body), "$1")
	return json.Unmarshal([]byte(repaired), v)
}

func extractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", errNoJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}
