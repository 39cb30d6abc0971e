package core

import "strings"

// Delimiters recognized for file content embedded in raw query text. The
// convention is "--- File: <name> ---" (or the Attached variant) followed
// by the content, running to end of string or a truncation marker.
var uploadMarkers = []string{"--- Attached File: ", "--- File: "}

// ExtractUploadedContent pulls embedded file content out of a query.
// Returns nil when no delimiter is present or the delimiter is malformed.
func ExtractUploadedContent(query string) *UploadedContent {
	for _, marker := range uploadMarkers {
		idx := strings.Index(query, marker)
		if idx < 0 {
			continue
		}
		rest := query[idx+len(marker):]
		end := strings.Index(rest, " ---")
		if end < 0 {
			continue
		}
		name := strings.TrimSpace(rest[:end])
		if name == "" {
			continue
		}
		content := rest[end+len(" ---"):]
		if cut := strings.Index(content, "[TRUNCATED"); cut >= 0 {
			content = content[:cut]
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		return &UploadedContent{Filename: name, Content: content}
	}
	return nil
}
