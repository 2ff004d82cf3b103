package llm

import "regexp"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`"(?:x-)?api-key"\s*:\s*"[^"]*"`),
}

// sanitizeErrorBody redacts credentials echoed back in provider error bodies
func sanitizeErrorBody(body string) string {
	for _, p := range secretPatterns {
		body = p.ReplaceAllString(body, "[REDACTED]")
	}
	return body
}
