package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section, sorted for
// deterministic suggestions when two candidates have the same distance.
var knownKeys = map[string][]string{
	"account":   {"client_id", "name", "tenant", "token_path", "token_store"},
	"session":   {"connect_timeout", "probe_interval"},
	"transfers": {"chunk_size", "spool_dir", "workers"},
	"logging":   {"log_format", "log_level"},
	"network":   {"data_timeout", "user_agent"},
	"journal":   {"enabled", "path"},
}

var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	slices.Sort(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An
// unknown section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok || len(key) == 1 {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownKeyError(topLevelKind(md, section), section, knownSections))
			}

			continue
		}

		full := strings.Join(key[:2], ".")
		if reported[full] {
			continue
		}

		reported[full] = true
		errs = append(errs, unknownKeyError("config key", full, qualified(section)))
	}

	return errors.Join(errs...)
}

// topLevelKind names an unknown top-level entry as a section when it is a
// table and as a key otherwise.
func topLevelKind(md *toml.MetaData, name string) string {
	if md.Type(name) == "Hash" {
		return "config section"
	}

	return "config key"
}

func qualified(section string) []string {
	keys := make([]string, 0, len(knownKeys[section]))
	for _, k := range knownKeys[section] {
		keys = append(keys, section+"."+k)
	}

	return keys
}

func unknownKeyError(kind, name string, candidates []string) error {
	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("unknown %s %q, did you mean %q?", kind, name, suggestion)
	}

	return fmt.Errorf("unknown %s %q", kind, name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using two
// rolling rows instead of a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
