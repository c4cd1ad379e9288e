// Package text holds the plain-text heuristics shared by the signal
// sources: script detection, homoglyph folding, caps and emoji counting,
// and the normalization applied before hashing or phrase matching.
package text

import (
	"strings"
	"unicode"
)

// homoglyphs maps Cyrillic and Greek lookalikes onto the Latin letters they
// imitate. Spam disguises flagged words ("сrypto", "frее") by swapping in
// these characters; folding them first keeps phrase matching honest.
var homoglyphs = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'і': 'i', 'ѕ': 's', 'ј': 'j', 'ԛ': 'q', 'ԝ': 'w', 'ё': 'e',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X', 'Ѕ': 'S', 'І': 'I',
	'Ј': 'J', 'Ԛ': 'Q', 'Ԝ': 'W',
	'ο': 'o', 'Ο': 'O', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z',
	'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ρ': 'P', 'Τ': 'T',
	'Χ': 'X',
}

// HasCyrillics checks if the given string contains any Cyrillic characters.
func HasCyrillics(content string) bool {
	for _, r := range content {
		if r >= 0x0400 && r <= 0x04FF {
			return true
		}
	}
	return false
}

// FoldHomoglyphs replaces lookalike characters with their Latin targets.
// Text that contains no lookalikes is returned unchanged.
func FoldHomoglyphs(content string) string {
	return strings.Map(func(r rune) rune {
		if folded, ok := homoglyphs[r]; ok {
			return folded
		}
		return r
	}, content)
}

// HasHomoglyphMix reports whether any single word mixes Latin letters with
// lookalike substitutes. Pure-Cyrillic words are normal text, not disguise.
func HasHomoglyphMix(content string) bool {
	var latin, mimic bool
	for _, r := range content {
		if !unicode.IsLetter(r) {
			if latin && mimic {
				return true
			}
			latin, mimic = false, false
			continue
		}
		if _, ok := homoglyphs[r]; ok {
			mimic = true
		} else if r < 0x80 {
			latin = true
		}
	}
	return latin && mimic
}

// CapsRatio returns the share of uppercase letters among all letters.
// Digits and punctuation are ignored so short shouty text still ranks high.
func CapsRatio(content string) float64 {
	var letters, upper int
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// CountEmoji counts emoji runes. Variation selectors and joiners are not
// counted, so a composed emoji still counts once.
func CountEmoji(content string) int {
	n := 0
	for _, r := range content {
		switch {
		case r >= 0x1F300 && r <= 0x1FAFF:
			n++
		case r >= 0x2600 && r <= 0x27BF:
			n++
		case r >= 0x2B00 && r <= 0x2BFF:
			n++
		}
	}
	return n
}

// NormalizeForMatch lowercases, folds homoglyphs and collapses whitespace.
// Both the duplicate-message hash and phrase matching run over this form so
// trivial re-spacing or case games never defeat either.
func NormalizeForMatch(content string) string {
	folded := FoldHomoglyphs(strings.ToLower(content))
	return strings.Join(strings.Fields(folded), " ")
}
