// Package cvematch scores free text against a small static table of
// vulnerability keyword entries. Pure lookup: no I/O, no state beyond the
// compiled-in table.
package cvematch

import (
	"regexp"
	"sort"
	"strings"
)

// Entry is one static vulnerability record with the keywords that
// indicate it in banner or description text.
type Entry struct {
	CVEID       string   `json:"cve_id"`
	Description string   `json:"description"`
	CVSS        float64  `json:"cvss"`
	Keywords    []string `json:"keywords"`
}

// Match is one scored hit from the table, ranked by descending score.
type Match struct {
	CVEID           string   `json:"cve_id"`
	Description     string   `json:"description"`
	CVSS            float64  `json:"cvss"`
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// idBonus is added when the input text names the entry's CVE id directly.
const idBonus = 2.0

var (
	tokenPattern = regexp.MustCompile(`[A-Za-z0-9_.\-]{3,}`)
	cveIDPattern = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)
)

// table covers the CCTV/IoT vulnerabilities the demo cares about.
var table = []Entry{
	{
		CVEID:       "CVE-2017-7921",
		Description: "Hikvision IP camera authentication bypass via crafted auth parameter",
		CVSS:        10.0,
		Keywords:    []string{"hikvision", "camera", "authentication", "bypass", "backdoor"},
	},
	{
		CVEID:       "CVE-2021-36260",
		Description: "Hikvision web server unauthenticated command injection",
		CVSS:        9.8,
		Keywords:    []string{"hikvision", "command", "injection", "web", "server", "unauthenticated"},
	},
	{
		CVEID:       "CVE-2018-9995",
		Description: "TBK DVR authentication bypass via crafted Cookie header",
		CVSS:        9.8,
		Keywords:    []string{"dvr", "tbk", "cookie", "authentication", "bypass"},
	},
	{
		CVEID:       "CVE-2020-25078",
		Description: "D-Link IP camera remote admin password disclosure",
		CVSS:        7.5,
		Keywords:    []string{"d-link", "dlink", "camera", "password", "disclosure", "admin"},
	},
	{
		CVEID:       "CVE-2024-1234",
		Description: "Camera firmware buffer overflow vulnerability",
		CVSS:        8.2,
		Keywords:    []string{"camera", "firmware", "buffer", "overflow"},
	},
	{
		CVEID:       "CVE-2024-1235",
		Description: "Default credentials in web interface",
		CVSS:        7.5,
		Keywords:    []string{"default", "credentials", "web", "interface", "login", "admin"},
	},
}

// Table returns a copy of the static entries (used by the CVE feed
// endpoint).
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// MatchText tokenizes text, scores each table entry by keyword overlap
// (plus a fixed bonus when the text names the entry's CVE id), and
// returns entries with score > 0 ranked by descending score.
func MatchText(text string) []Match {
	tokens := tokenize(text)
	ids := map[string]bool{}
	for _, id := range cveIDPattern.FindAllString(text, -1) {
		ids[strings.ToUpper(id)] = true
	}

	var matches []Match
	for _, entry := range table {
		var matched []string
		for _, kw := range entry.Keywords {
			if tokens[kw] {
				matched = append(matched, kw)
			}
		}

		score := float64(len(matched))
		if ids[entry.CVEID] {
			score += idBonus
		}
		if score <= 0 {
			continue
		}

		matches = append(matches, Match{
			CVEID:           entry.CVEID,
			Description:     entry.Description,
			CVSS:            entry.CVSS,
			Score:           score,
			MatchedKeywords: matched,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CVEID < matches[j].CVEID
	})
	return matches
}

func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, t := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[t] = true
	}
	return tokens
}
