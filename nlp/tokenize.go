package nlp

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

	// Clause boundaries: punctuation plus discourse words in English,
	// Filipino and Cebuano. A negation never reaches across one.
	clausePattern = regexp.MustCompile(`[.!?;,]|\b(?:but|pero|kaso|however|kaya|so|then|pagkatapos|undangan)\b`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "from": true, "with": true, "near": true,
	"this": true, "that": true, "there": true, "here": true, "our": true, "are": true,
	"was": true, "were": true, "has": true, "have": true, "just": true, "at": true,
	"ang": true, "mga": true, "nga": true, "may": true, "kay": true, "ako": true,
	"namo": true, "kami": true, "dito": true, "diri": true, "natin": true, "yung": true,
}

func tokenize(s string) []string {
	return tokenPattern.FindAllString(s, -1)
}

// clauses splits lowercased text into token lists, one per clause. Empty
// clauses are dropped.
func clauses(lower string) [][]string {
	var out [][]string
	for _, part := range clausePattern.Split(lower, -1) {
		if toks := tokenize(part); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

func phrase(s string) []string {
	return tokenize(strings.ToLower(s))
}

// indexOfPhrase returns every start index of p in toks.
func indexOfPhrase(toks, p []string) []int {
	var idx []int
	if len(p) == 0 || len(p) > len(toks) {
		return nil
	}
outer:
	for i := 0; i+len(p) <= len(toks); i++ {
		for j := range p {
			if toks[i+j] != p[j] {
				continue outer
			}
		}
		idx = append(idx, i)
	}
	return idx
}

func containsPhrase(toks, p []string) bool {
	return len(indexOfPhrase(toks, p)) > 0
}

// significantTerms returns the sorted, unique tokens worth comparing
// between two complaints.
func significantTerms(cls [][]string, skip map[string]bool) []string {
	seen := make(map[string]bool)
	for _, toks := range cls {
		for _, t := range toks {
			if len([]rune(t)) < 3 || stopwords[t] || skip[t] {
				continue
			}
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// shouting reports whether most letters of text are upper case.
func shouting(text string) bool {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return letters >= 8 && float64(upper)/float64(letters) >= 0.6
}
