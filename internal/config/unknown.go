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

// knownKeys maps each section to its valid keys.
var knownKeys = map[string][]string{
	"api":       {"api_key", "connect_timeout", "request_timeout", "url", "user_agent"},
	"transfers": {"max_downloads", "max_file_size", "max_uploads", "pool_workers", "sort_start_queue"},
	"logging":   {"log_file", "log_format", "log_level"},
	"status":    {"listen_addr"},
	"account":   {"email"},
}

// knownSections is the sorted list of section names for suggestions.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := unknownKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	keys, ok := knownKeys[key[0]]
	if !ok {
		// Children of an unknown section are covered by the section error.
		if len(key) > 1 {
			return nil
		}

		return withSuggestion(fmt.Sprintf("unknown config section %q", key[0]), closestMatch(key[0], knownSections))
	}

	if len(key) == 1 {
		return nil
	}

	msg := fmt.Sprintf("unknown config key %q in [%s]", strings.Join(key[1:], "."), key[0])

	return withSuggestion(msg, closestMatch(key[1], keys))
}

func withSuggestion(msg, suggestion string) error {
	if suggestion == "" {
		return errors.New(msg)
	}

	return fmt.Errorf("%s, did you mean %q?", msg, suggestion)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
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
