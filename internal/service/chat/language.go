package chat

import "unicode"

var scripts = []struct {
	table *unicode.RangeTable
	name  string
}{
	{unicode.Hiragana, "Japanese"},
	{unicode.Katakana, "Japanese"},
	{unicode.Hangul, "Korean"},
	{unicode.Han, "Chinese"},
	{unicode.Cyrillic, "Russian"},
	{unicode.Arabic, "Arabic"},
	{unicode.Hebrew, "Hebrew"},
	{unicode.Greek, "Greek"},
	{unicode.Thai, "Thai"},
	{unicode.Devanagari, "Hindi"},
}

// DetectLanguage guesses the language of s from its dominant non-Latin script. It
// returns "" for Latin-script or unrecognised text, where the script says too little.
// Any kana makes the text Japanese, since Japanese mixes kana with Han characters.
func DetectLanguage(s string) string {
	counts := make(map[string]int)
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for _, sc := range scripts {
			if unicode.Is(sc.table, r) {
				counts[sc.name]++
				break
			}
		}
	}
	if letters == 0 {
		return ""
	}
	if counts["Japanese"] > 0 {
		return "Japanese"
	}

	best, bestCount := "", 0
	for _, sc := range scripts {
		if c := counts[sc.name]; c > bestCount {
			best, bestCount = sc.name, c
		}
	}
	// require the script to make up a real share of the letters
	if bestCount*3 < letters {
		return ""
	}
	return best
}
