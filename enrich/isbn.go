package enrich

import "strings"

// NormalizeISBN13 strips separators and returns the ISBN when it is a valid
// 13-digit ISBN (EAN-13 check digit), or "" otherwise.
func NormalizeISBN13(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	isbn := b.String()
	if len(isbn) != 13 {
		return ""
	}

	sum := 0
	for i := 0; i < 12; i++ {
		d := int(isbn[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	if int(isbn[12]-'0') != check {
		return ""
	}
	return isbn
}

// FirstISBN13 returns the first valid ISBN-13 in candidates.
func FirstISBN13(candidates []string) string {
	for _, c := range candidates {
		if isbn := NormalizeISBN13(c); isbn != "" {
			return isbn
		}
	}
	return ""
}
