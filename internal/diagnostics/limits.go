package diagnostics

// Helpers for keeping analyzer output inside the agent context window.

// truncateMessage shortens a message to max characters, marking the cut.
func truncateMessage(message string, max int) string {
	if max <= 0 || len(message) <= max {
		return message
	}
	return message[:max] + "..."
}

// positiveOr returns v when positive, otherwise the default.
func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
