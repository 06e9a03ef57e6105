package logger

import "strings"

// RedactEmail masks the local part of an address.
// "john.doe@example.com" → "jo***@example.com", "ab@example.com" → "***@example.com".
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	local, host := email[:at], email[at+1:]
	if len(local) > 2 {
		return local[:2] + "***@" + host
	}
	return "***@" + host
}
