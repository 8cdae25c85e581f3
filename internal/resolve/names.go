package resolve

import (
	"regexp"
	"strings"
)

// Name matching follows a ladder: exact after normalization, known-nickname
// equivalence, then normalized token/edit-distance similarity with a hard
// stop on mismatched surnames.

var (
	initialRe = regexp.MustCompile(`\b[A-Z]\.\s*`)
	suffixRe  = regexp.MustCompile(`(?i)\s+(Jr|Sr|II|III|IV|V)\.?$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// NormalizeName prepares a name for comparison: strips middle initials and
// suffixes, collapses whitespace, lowercases. Whitespace is collapsed first
// so the end-anchored suffix pattern sees the trimmed name.
func NormalizeName(name string) string {
	name = spaceRe.ReplaceAllString(strings.TrimSpace(name), " ")
	name = initialRe.ReplaceAllString(name, "")
	name = suffixRe.ReplaceAllString(name, "")
	return strings.ToLower(strings.TrimSpace(name))
}

// SplitFirstLast returns the first and last tokens of a full name.
func SplitFirstLast(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}

// nicknameGroups are equivalence classes of formal names and their common
// short forms. Two given names in the same group are treated as the same
// person's name.
var nicknameGroups = [][]string{
	{"william", "bill", "billy", "will", "willie"},
	{"robert", "bob", "bobby", "rob", "robbie"},
	{"richard", "rick", "ricky", "dick", "rich"},
	{"james", "jim", "jimmy", "jamie"},
	{"john", "jack", "johnny", "jon"},
	{"michael", "mike", "mikey"},
	{"thomas", "tom", "tommy"},
	{"charles", "charlie", "chuck"},
	{"joseph", "joe", "joey"},
	{"edward", "ed", "eddie", "ted", "teddy"},
	{"donald", "don", "donnie"},
	{"kenneth", "ken", "kenny"},
	{"steven", "steve", "stephen"},
	{"daniel", "dan", "danny"},
	{"anthony", "tony"},
	{"lawrence", "larry"},
	{"gerald", "jerry", "gerry"},
	{"ronald", "ron", "ronnie"},
	{"margaret", "peggy", "maggie", "marge", "meg"},
	{"elizabeth", "liz", "beth", "betty", "betsy", "eliza"},
	{"patricia", "pat", "patsy", "patty", "tricia"},
	{"katherine", "catherine", "kate", "kathy", "katie", "cathy"},
	{"barbara", "barb", "barbie"},
	{"dorothy", "dot", "dottie"},
	{"virginia", "ginny"},
	{"susan", "sue", "susie", "suzy"},
	{"deborah", "deb", "debbie"},
	{"jennifer", "jen", "jenny"},
	{"frances", "fran", "frannie"},
	{"eleanor", "ellie", "nell"},
}

var nicknameIndex = buildNicknameIndex()

func buildNicknameIndex() map[string]int {
	idx := make(map[string]int)
	for i, group := range nicknameGroups {
		for _, n := range group {
			idx[n] = i
		}
	}
	return idx
}

// IsKnownNickname reports whether two given names belong to the same
// nickname equivalence class.
func IsKnownNickname(name1, name2 string) bool {
	g1, ok1 := nicknameIndex[strings.ToLower(strings.TrimSpace(name1))]
	g2, ok2 := nicknameIndex[strings.ToLower(strings.TrimSpace(name2))]
	return ok1 && ok2 && g1 == g2
}

// MatchResult is the outcome of comparing two names.
type MatchResult struct {
	Score  float64
	Method string
}

// MatchNames computes a similarity score in [0,1] between two full names.
// Different surnames are a hard zero unless they are near-identical typo
// variants.
func MatchNames(name1, name2 string) MatchResult {
	norm1 := NormalizeName(name1)
	norm2 := NormalizeName(name2)

	if norm1 == norm2 && norm1 != "" {
		return MatchResult{Score: 1.0, Method: "exact_normalized"}
	}

	first1, last1 := SplitFirstLast(name1)
	first2, last2 := SplitFirstLast(name2)

	if last1 != "" && last2 != "" {
		l1 := NormalizeName(last1)
		l2 := NormalizeName(last2)
		if l1 != l2 && NormalizedLevenshtein(l1, l2) < 0.80 {
			return MatchResult{Score: 0, Method: "different_surname"}
		}
	}

	if first1 != "" && first2 != "" && IsKnownNickname(first1, first2) {
		return MatchResult{Score: 0.95, Method: "known_nickname"}
	}

	// Token-sort similarity handles reordered names; plain similarity
	// handles spelling drift.
	plain := NormalizedLevenshtein(norm1, norm2)
	sorted := NormalizedLevenshtein(sortTokens(norm1), sortTokens(norm2))
	tokens := tokenOverlap(norm1, norm2)

	best := plain
	if sorted > best {
		best = sorted
	}
	if tokens > best {
		best = tokens
	}

	if best >= 0.90 {
		return MatchResult{Score: best, Method: "fuzzy_high"}
	}
	if best >= 0.80 {
		return MatchResult{Score: best, Method: "fuzzy"}
	}
	return MatchResult{Score: best, Method: "no_match"}
}

func sortTokens(s string) string {
	parts := strings.Fields(s)
	for i := 0; i < len(parts); i++ {
		for j := i + 1; j < len(parts); j++ {
			if parts[j] < parts[i] {
				parts[i], parts[j] = parts[j], parts[i]
			}
		}
	}
	return strings.Join(parts, " ")
}

// tokenOverlap is the Jaccard similarity of the two names' token sets.
func tokenOverlap(a, b string) float64 {
	setA := map[string]bool{}
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	setB := map[string]bool{}
	for _, t := range strings.Fields(b) {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// NormalizedLevenshtein returns 1 - dist/maxLen, in [0,1].
func NormalizedLevenshtein(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1.0 - float64(prev[len(rb)])/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
