// Package score computes deterministic confidence scores for extracted
// facts. Scoring is pure: identical inputs always produce identical scores,
// and every sub-score is independently explainable.
package score

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"kinforge/internal/model"
)

// Sub-score weights. They sum to 1.0.
const (
	weightNameClarity = 0.30
	weightRelClarity  = 0.25
	weightDateSpec    = 0.20
	weightExtractor   = 0.15
	weightContext     = 0.10
)

// ClusterContext carries what is known about the fact's subject from the
// rest of its cluster at scoring time.
type ClusterContext struct {
	BirthDate string
	DeathDate string
	DeathAge  string

	HasBirthLocation     bool
	HasDeathLocation     bool
	HasResidenceLocation bool

	// LinkedScores are the confidence scores of the persons a relational
	// fact links, when already scored.
	LinkedScores []float64

	// Bidirectional is true when the relationship is stated from both
	// sides (his wife / her husband).
	Bidirectional bool

	// SourceDocuments is how many documents corroborate this fact.
	SourceDocuments int
}

// DocumentContext carries source-document quality signals.
type DocumentContext struct {
	WordCount            int
	RelationshipMentions int
	Text                 string
}

// Scorer computes fact confidence scores.
type Scorer struct{}

// NewScorer creates a new scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Breakdown exposes the transparent sub-scores behind a final score.
type Breakdown struct {
	NameClarity         float64 `json:"name_clarity"`
	RelationshipClarity float64 `json:"relationship_clarity"`
	DateSpecificity     float64 `json:"date_specificity"`
	ExtractorReported   float64 `json:"extractor_reported"`
	ContextQuality      float64 `json:"context_quality"`
	Penalties           float64 `json:"penalties"`
	Final               float64 `json:"final"`
}

// Score computes the confidence score for a fact given its cluster and
// document context. The result is in [0,1], rounded to two decimals.
func (s *Scorer) Score(fact *model.Fact, cc ClusterContext, dc DocumentContext) float64 {
	return s.ScoreDetail(fact, cc, dc).Final
}

// ScoreDetail computes the score with its full breakdown.
func (s *Scorer) ScoreDetail(fact *model.Fact, cc ClusterContext, dc DocumentContext) Breakdown {
	b := Breakdown{
		NameClarity:         nameClarity(fact.SubjectName),
		RelationshipClarity: relationshipClarity(fact),
		DateSpecificity:     dateSpecificity(cc),
		ExtractorReported:   extractorConfidence(fact),
		ContextQuality:      contextQuality(dc),
	}

	var total float64
	if fact.Type.IsRelational() {
		// Relationship facts override the generic formula.
		total = 0.70*b.RelationshipClarity + 0.30*average(cc.LinkedScores)
		if cc.Bidirectional {
			total += 0.10
		}
		if cc.SourceDocuments > 1 {
			total += 0.05
		}
		total = math.Min(total, 1.0)
	} else {
		total = weightNameClarity*b.NameClarity +
			weightRelClarity*b.RelationshipClarity +
			weightDateSpec*b.DateSpecificity +
			weightExtractor*b.ExtractorReported +
			weightContext*b.ContextQuality
	}

	// Penalties are independent, commutative deductions.
	b.Penalties = penalties(fact, cc, dc)
	total -= b.Penalties

	if total < 0 {
		total = 0
	}
	b.Final = math.Round(total*100) / 100
	return b
}

var (
	honorifics = map[string]bool{
		"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true,
		"rev": true, "fr": true, "sr": true, "prof": true, "hon": true,
	}
	suffixes = map[string]bool{
		"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "v": true,
	}
	bracketNicknameRe = regexp.MustCompile(`["“”(][^"“”()]+[")“”]`)
	maidenRe          = regexp.MustCompile(`(?i)\b(n[ée]e)\b`)
)

// nameClarity scores how completely the subject name identifies a person.
func nameClarity(name string) float64 {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0
	}

	hasNickname := bracketNicknameRe.MatchString(name)
	hasMaiden := maidenRe.MatchString(name)

	stripped := bracketNicknameRe.ReplaceAllString(name, " ")
	stripped = maidenRe.ReplaceAllString(stripped, " ")

	var honorific, suffix bool
	var tokens []string
	for _, raw := range strings.Fields(stripped) {
		tok := strings.Trim(raw, ".,")
		low := strings.ToLower(tok)
		switch {
		case honorifics[low] && len(tokens) == 0:
			honorific = true
		case suffixes[low] && len(tokens) > 0:
			suffix = true
		case tok != "":
			tokens = append(tokens, tok)
		}
	}

	var score float64
	switch {
	case len(tokens) >= 2:
		score = 0.50
		// Middle name or initial between given and surname.
		if len(tokens) >= 3 {
			score += 0.15
		}
	case len(tokens) == 1 && honorific:
		// "Mrs. Smith" — surname only.
		score = 0.30
	case len(tokens) == 1:
		score = 0.20
	default:
		return 0
	}

	if hasMaiden {
		score += 0.10
	}
	if honorific {
		score += 0.10
	}
	if hasNickname {
		score += 0.10
	}
	if suffix {
		score += 0.05
	}
	return math.Min(score, 1.0)
}

var (
	explicitKinTerms = map[string]bool{
		"wife": true, "husband": true, "mother": true, "father": true,
		"son": true, "daughter": true, "brother": true, "sister": true,
		"grandmother": true, "grandfather": true, "grandson": true,
		"granddaughter": true, "aunt": true, "uncle": true, "niece": true,
		"nephew": true, "cousin": true,
	}
	broadKinTerms = map[string]bool{
		"spouse": true, "parent": true, "child": true, "sibling": true,
		"stepparent": true, "stepmother": true, "stepfather": true,
		"stepson": true, "stepdaughter": true, "half-sibling": true,
		"half-brother": true, "half-sister": true, "grandparent": true,
		"grandchild": true,
	}
	vagueKinTerms = map[string]bool{
		"partner": true, "companion": true, "relative": true, "friend": true,
	}
	possessiveRe = regexp.MustCompile(`(?i)\b(his|her|their)\s+(` +
		`wife|husband|mother|father|son|daughter|brother|sister|` +
		`grandmother|grandfather|grandson|granddaughter|spouse|parent|child)\b`)
)

// relationshipClarity scores how precisely the relationship term pins down
// kinship. Facts that carry no relationship term fall back to the subject
// role: the primary subject needs no kin term at all, enumerated roles carry
// the clarity of their corresponding broadened term.
func relationshipClarity(fact *model.Fact) float64 {
	term := strings.ToLower(strings.TrimSpace(fact.RelationshipType))
	if term == "" && fact.Type.IsRelational() {
		term = strings.ToLower(strings.TrimSpace(fact.Value))
	}

	var score float64
	switch {
	case term == "" && !fact.Type.IsRelational():
		score = roleClarity(fact.SubjectRole)
	case explicitKinTerms[term]:
		score = 1.0
	case broadKinTerms[term]:
		score = 0.70
	case vagueKinTerms[term]:
		score = 0.40
	default:
		score = 0.20
	}

	if possessiveRe.MatchString(fact.Context) {
		score += 0.20
	}
	return math.Min(score, 1.0)
}

// roleClarity maps a subject role to the clarity of its implied kin term.
func roleClarity(role model.SubjectRole) float64 {
	switch role {
	case model.RoleDeceasedPrimary:
		return 1.0
	case model.RoleSpouse, model.RoleChild, model.RoleParent, model.RoleSibling,
		model.RoleGrandparent, model.RoleGrandchild:
		return 0.70
	case model.RoleInLaw:
		return 0.40
	default:
		return 0.20
	}
}

// dateSpecificity scores how precisely the cluster pins the person in time
// and place.
func dateSpecificity(cc ClusterContext) float64 {
	var score float64

	if birth, ok := model.ParseDate(cc.BirthDate); ok {
		if birth.Exact() {
			score += 0.35
		} else {
			score += 0.20
		}
	} else if strings.TrimSpace(cc.DeathAge) != "" {
		score += 0.15
	}

	if death, ok := model.ParseDate(cc.DeathDate); ok {
		if death.Exact() {
			score += 0.35
		} else {
			score += 0.20
		}
	}

	if cc.HasBirthLocation {
		score += 0.10
	}
	if cc.HasDeathLocation {
		score += 0.10
	}
	if cc.HasResidenceLocation {
		score += 0.10
	}
	return math.Min(score, 1.0)
}

// extractorConfidence uses the extractor's own confidence when reported,
// otherwise infers one from its uncertainty flags.
func extractorConfidence(fact *model.Fact) float64 {
	if fact.RawConfidence != nil {
		return *fact.RawConfidence
	}
	inferred := 0.90 - 0.15*float64(len(fact.UncertaintyFlags))
	return math.Max(0, inferred)
}

var structuralKeywords = []string{
	"survived by", "preceded in death", "passed away", "born", "died",
	"funeral", "services", "interment", "memorial", "visitation",
}

var detailKeywords = []string{
	"beloved", "married", "resident of", "age", "years", "devoted",
}

// contextQuality scores the source document itself.
func contextQuality(dc DocumentContext) float64 {
	var score float64

	switch {
	case dc.WordCount > 500:
		score += 0.30
	case dc.WordCount > 300:
		score += 0.20
	case dc.WordCount > 150:
		score += 0.10
	}

	switch {
	case dc.RelationshipMentions >= 3:
		score += 0.30
	case dc.RelationshipMentions >= 2:
		score += 0.20
	case dc.RelationshipMentions >= 1:
		score += 0.10
	}

	structural := countKeywords(dc.Text, structuralKeywords)
	switch {
	case structural >= 4:
		score += 0.30
	case structural >= 2:
		score += 0.20
	case structural >= 1:
		score += 0.10
	}

	if countKeywords(dc.Text, detailKeywords) > 0 {
		score += 0.10
	}

	return math.Min(score, 1.0)
}

func countKeywords(text string, keywords []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// penalties sums the independent deductions. Order never matters.
func penalties(fact *model.Fact, cc ClusterContext, dc DocumentContext) float64 {
	var total float64

	// Missing critical identifying data: no surname for a non-primary
	// subject, or no dates/age at all.
	noSurname := len(strings.Fields(strings.TrimSpace(fact.SubjectName))) < 2
	noDates := cc.BirthDate == "" && cc.DeathDate == "" && cc.DeathAge == ""
	if (noSurname && fact.SubjectRole != model.RoleDeceasedPrimary) || noDates {
		total += 0.20
	}

	birth, haveBirth := model.ParseDate(cc.BirthDate)
	death, haveDeath := model.ParseDate(cc.DeathDate)

	if haveBirth && haveDeath && death.Time.Before(birth.Time) {
		total += 0.30
	}

	if haveBirth && haveDeath && cc.DeathAge != "" {
		if age, err := strconv.Atoi(strings.TrimSpace(cc.DeathAge)); err == nil {
			span := death.Time.Year() - birth.Time.Year()
			if span >= 0 && abs(span-age) > 2 {
				total += 0.20
			}
		}
	}

	for _, flag := range fact.UncertaintyFlags {
		if strings.Contains(strings.ToLower(flag), "pronoun") {
			total += 0.10
			break
		}
	}

	if dc.WordCount < 100 || countKeywords(dc.Text, structuralKeywords) == 0 {
		total += 0.15
	}

	return total
}

func average(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
