package timeline

import "strings"

// MarkPasted sets Highlighted on every event whose content contains one of
// the pasted texts. Blank paste texts never match.
func MarkPasted(events []Event, pastes []string) []Event {
	trimmed := make([]string, 0, len(pastes))
	for _, p := range pastes {
		if p = strings.TrimSpace(p); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	out := make([]Event, len(events))
	copy(out, events)
	if len(trimmed) == 0 {
		return out
	}
	for i := range out {
		for _, p := range trimmed {
			if strings.Contains(out[i].Content, p) {
				out[i].Highlighted = true
				break
			}
		}
	}
	return out
}
