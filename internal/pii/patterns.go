package pii

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// span locates one accepted match by byte offset in the scanned text.
type span struct {
	start, end int
}

// detectorPass is one stage of the ordered detection pipeline. find
// returns candidate match locations in left-to-right order; stopwordGated
// passes are checked against the stopword set before masking.
type detectorPass struct {
	category      Category
	stopwordGated bool
	find          func(text string) []span
}

// emailPattern matches local-part@domain.tld: an ASCII local part of
// letters, digits and ._%+-, dot-separated letter/digit/hyphen domain
// segments, and a TLD of two or more letters.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}`)

// phonePattern matches Japanese domestic numbers: a leading 0, then
// 1-4 digits, optional hyphen, 1-4 digits, optional hyphen, 4 digits;
// the hyphen-free alternative covers 0 followed by 9-10 plain digits.
var phonePattern = regexp.MustCompile(`0\d{1,4}-\d{1,4}-\d{4}|0\d{9,10}`)

// passes is the fixed detection order. Email and phone run first so that
// digits and ASCII runs are consumed before the script heuristics; kanji
// runs before katakana so mixed names resolve deterministically.
var passes = []detectorPass{
	{category: CategoryEmail, find: findPattern(emailPattern)},
	{category: CategoryPhone, find: findPattern(phonePattern)},
	{category: CategoryName, stopwordGated: true, find: findKanjiRuns},
	{category: CategoryName, stopwordGated: true, find: findKatakanaRuns},
}

func findPattern(re *regexp.Regexp) func(string) []span {
	return func(text string) []span {
		idx := re.FindAllStringIndex(text, -1)
		out := make([]span, len(idx))
		for i, p := range idx {
			out[i] = span{start: p[0], end: p[1]}
		}
		return out
	}
}

// findKanjiRuns returns maximal runs of CJK ideographs whose length is
// 2 to 6 characters. Shorter and longer runs are left alone; that length
// bound is the name heuristic, not an implementation shortcut.
func findKanjiRuns(text string) []span {
	return findRuns(text, isKanji, 2, 6)
}

// findKatakanaRuns returns maximal katakana runs (including the long
// vowel mark) of 3 to 10 characters.
func findKatakanaRuns(text string) []span {
	return findRuns(text, isKatakana, 3, 10)
}

// findRuns scans text for maximal runs of runes accepted by member and
// keeps those whose rune count lies within [minLen, maxLen].
func findRuns(text string, member func(rune) bool, minLen, maxLen int) []span {
	var out []span
	start := -1
	count := 0
	for i, r := range text {
		if member(r) {
			if start < 0 {
				start = i
				count = 0
			}
			count++
			continue
		}
		if start >= 0 {
			if count >= minLen && count <= maxLen {
				out = append(out, span{start: start, end: i})
			}
			start = -1
		}
	}
	if start >= 0 && count >= minLen && count <= maxLen {
		out = append(out, span{start: start, end: len(text)})
	}
	return out
}

func isKanji(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// isKatakana accepts the katakana script plus U+30FC, the long vowel
// mark, which Unicode classifies as Common rather than Katakana.
func isKatakana(r rune) bool {
	const longVowelMark = 'ー'
	return unicode.Is(unicode.Katakana, r) || r == longVowelMark
}

// runeLen is a test helper alias kept close to the run scanner.
func runeLen(s string) int { return utf8.RuneCountInString(s) }
