package xtream

import "strings"

// ParseTitleYear splits "Title (Year)" into its parts. Anything without a
// plausible trailing year comes back unchanged with year 0.
func ParseTitleYear(s string) (title string, year int) {
	s = strings.TrimSpace(s)
	if len(s) < 6 || s[len(s)-1] != ')' {
		return s, 0
	}
	i := strings.LastIndex(s, "(")
	if i < 0 {
		return s, 0
	}
	y := strings.TrimSpace(s[i+1 : len(s)-1])
	if len(y) != 4 {
		return s, 0
	}
	for _, c := range y {
		if c < '0' || c > '9' {
			return s, 0
		}
	}
	year = int(y[0]-'0')*1000 + int(y[1]-'0')*100 + int(y[2]-'0')*10 + int(y[3]-'0')
	if year < 1900 || year > 2100 {
		return s, 0
	}
	return strings.TrimSpace(s[:i]), year
}
