package quote

import "strings"

// FormatSymbol prefixes a bare 6 digit A-share code with its exchange.
// Codes starting with 6 or 5 trade in Shanghai, 0 or 3 in Shenzhen.
// Already prefixed codes are lowercased; anything else is returned as is.
func FormatSymbol(code string) string {
	code = strings.TrimSpace(code)
	lower := strings.ToLower(code)
	if len(lower) == 8 && (strings.HasPrefix(lower, "sh") || strings.HasPrefix(lower, "sz")) && isDigits(lower[2:]) {
		return lower
	}
	if len(code) != 6 || !isDigits(code) {
		return code
	}
	switch code[0] {
	case '6', '5':
		return "sh" + code
	case '0', '3':
		return "sz" + code
	}
	return code
}

// SplitSymbol separates "sh600519" into its market and code.
func SplitSymbol(symbol string) (market, code string, ok bool) {
	s := FormatSymbol(symbol)
	if len(s) != 8 || !isDigits(s[2:]) {
		return "", "", false
	}
	return s[:2], s[2:], true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
