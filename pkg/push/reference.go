package push

import "regexp"

// Task references come in two shapes. The UUID form is checked first so that a
// numeric first UUID group is never mistaken for a short numeric id.
var taskRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Z]+-[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`),
	regexp.MustCompile(`[A-Z]+-\d+`),
}

// ExtractTaskID finds the first task reference in a push. The raw ref is
// searched before the commit messages, and commits are searched in payload
// order. Bracketed references such as "[BUG-42]" match like bare ones.
func ExtractTaskID(e *Event) (string, bool) {
	if e == nil {
		return "", false
	}
	if id, ok := matchTaskRef(e.ref); ok {
		return id, true
	}
	for _, commit := range e.commits {
		if id, ok := matchTaskRef(commit.Message); ok {
			return id, true
		}
	}
	return "", false
}

func matchTaskRef(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, pattern := range taskRefPatterns {
		if match := pattern.FindString(text); match != "" {
			return match, true
		}
	}
	return "", false
}
