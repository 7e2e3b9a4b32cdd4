package middleware

import "strings"

// MaskToken маскирует токен/идентификатор сессии в логах (в prod не светить полное значение).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
