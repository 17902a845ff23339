package redact

// Username оставляет от имени пользователя первые два символа —
// достаточно для сопоставления записей в логах, мало для перебора.
func Username(s string) string {
	r := []rune(s)
	if len(r) <= 2 {
		return "***"
	}

	return string(r[:2]) + "***"
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
