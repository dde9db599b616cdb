package query

import "strings"

const fence = "```"

// ExtractStructuredPayload returns the body of the first fenced block whose
// info string is empty or "json". Blocks tagged with another language are
// skipped. It reports false when no such block exists.
func ExtractStructuredPayload(text string) (string, bool) {
	rest := text
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			return "", false
		}
		rest = rest[start+len(fence):]
		end := strings.Index(rest, fence)
		if end < 0 {
			return "", false
		}
		block := rest[:end]
		rest = rest[end+len(fence):]

		info, body := splitInfo(block)
		if info != "" && !strings.EqualFold(info, "json") {
			continue
		}
		if body = strings.TrimSpace(body); body != "" {
			return body, true
		}
	}
}

// splitInfo separates a fence's info string from its body. A leading "json"
// is the info string whatever follows it, so single-line blocks such as
// ```json {"a":1}``` and ```json{"a":1}``` are handled too.
func splitInfo(block string) (info, body string) {
	trimmed := strings.TrimLeft(block, " \t")
	if len(trimmed) >= 4 && strings.EqualFold(trimmed[:4], "json") {
		return "json", trimmed[4:]
	}
	nl := strings.IndexByte(block, '\n')
	if nl < 0 {
		return "", block
	}
	first := strings.TrimSpace(block[:nl])
	if first == "" || strings.ContainsAny(first[:1], "{[") {
		return "", block
	}
	return first, block[nl+1:]
}
