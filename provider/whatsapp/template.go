package whatsapp

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// PlaceholderCount returns the highest positional placeholder index
// referenced by a template body, so "Hi {{1}}, see {{3}}" reports 3.
func PlaceholderCount(body string) int {
	max := 0

	for _, match := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}

		if index > max {
			max = index
		}
	}

	return max
}

// marker is the visible stand-in for a parameter that was not supplied. A
// missing parameter must never drop silently or abort the batch, so the
// message carries the placeholder through to the recipient instead.
func marker(index int) string {
	return fmt.Sprintf("{{%d}}", index)
}

// PositionalParams pads params to the count of placeholders in body. Missing
// or empty parameters render as visible markers.
func PositionalParams(body string, params []string) []string {
	count := PlaceholderCount(body)
	if count < len(params) {
		count = len(params)
	}

	out := make([]string, count)

	for i := 0; i < count; i++ {
		if i < len(params) && params[i] != "" {
			out[i] = params[i]
			continue
		}

		out[i] = marker(i + 1)
	}

	return out
}
