// Package match ranks candidate records in the external store for a person
// cluster using composite name/date/location scoring.
package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"kinforge/internal/model"
	"kinforge/internal/resolve"
	"kinforge/internal/ssot"
)

// Composite weights. Components with no data on either side are excluded
// and the remaining weights renormalized, never penalized.
const (
	weightName     = 0.50
	weightDate     = 0.30
	weightLocation = 0.20
)

// Profile is the matchable summary of a cluster, built once per pipeline
// run and held as a consistent snapshot.
type Profile struct {
	Names      []string
	BirthDate  string
	DeathDate  string
	BirthPlace string
	DeathPlace string
	Residence  string
}

// BuildProfile assembles a matchable profile from a cluster and its facts.
func BuildProfile(cluster *model.PersonCluster, facts []*model.Fact) Profile {
	p := Profile{Names: append([]string{}, cluster.NameVariants...)}
	if cluster.CanonicalName != "" {
		p.Names = append(p.Names, cluster.CanonicalName)
	}
	for _, f := range facts {
		switch f.Type {
		case model.FactBirthDate:
			if p.BirthDate == "" {
				p.BirthDate = f.Value
			}
		case model.FactDeathDate:
			if p.DeathDate == "" {
				p.DeathDate = f.Value
			}
		case model.FactLocationBirth:
			p.BirthPlace = f.Value
		case model.FactLocationDeath:
			p.DeathPlace = f.Value
		case model.FactLocationResidence:
			p.Residence = f.Value
		}
	}
	return p
}

// Detail is the transparent scoring breakdown for one candidate.
type Detail struct {
	NameScore     float64 `json:"name_score"`
	DateScore     float64 `json:"date_score"`
	DateIncluded  bool    `json:"date_included"`
	LocationScore float64 `json:"location_score"`
	LocIncluded   bool    `json:"location_included"`
}

// Candidate is one ranked external record.
type Candidate struct {
	Record ssot.Record `json:"record"`
	Score  float64     `json:"score"`
	Detail Detail      `json:"detail"`
}

// Outcome summarizes the candidate ranking for routing.
type Outcome string

const (
	// OutcomeNone: no candidate reached the minimum floor; the cluster
	// is a new entity upstream.
	OutcomeNone Outcome = "none"
	// OutcomeSingle: exactly one candidate at or above the auto-match
	// floor with a clear margin over the runner-up.
	OutcomeSingle Outcome = "single"
	// OutcomeAmbiguous: two or more candidates above the floor within
	// the ambiguity window of each other.
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeUncertain: plausible candidates exist but none qualifies
	// for an automatic match.
	OutcomeUncertain Outcome = "uncertain"
)

// Result is the matcher's output for one cluster.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	Candidates []Candidate `json:"candidates"`
}

// Best returns the top candidate, or nil when there is none.
func (r *Result) Best() *Candidate {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// Matcher ranks external-store candidates for clusters.
type Matcher struct {
	client     ssot.Client
	thresholds model.Thresholds
}

// NewMatcher creates a matcher bound to a record-store client and the run's
// threshold snapshot.
func NewMatcher(client ssot.Client, thresholds model.Thresholds) *Matcher {
	return &Matcher{client: client, thresholds: thresholds}
}

// FindCandidates searches the store and ranks every candidate against the
// profile. Candidates below the minimum floor are dropped.
func (m *Matcher) FindCandidates(ctx context.Context, profile Profile) (*Result, error) {
	seen := map[string]bool{}
	var candidates []Candidate

	for _, name := range profile.Names {
		records, err := m.client.Search(ctx, name, nil, "")
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", name, err)
		}
		for _, rec := range records {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true

			score, detail := m.scoreRecord(profile, rec)
			if score >= m.thresholds.MinCandidateScore {
				candidates = append(candidates, Candidate{Record: rec, Score: score, Detail: detail})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	return &Result{
		Outcome:    m.classify(candidates),
		Candidates: candidates,
	}, nil
}

func (m *Matcher) classify(candidates []Candidate) Outcome {
	if len(candidates) == 0 {
		return OutcomeNone
	}

	autoFloor := m.thresholds.FuzzyMatchThreshold
	top := candidates[0]

	if len(candidates) >= 2 {
		runnerUp := candidates[1]
		if top.Score-runnerUp.Score < m.thresholds.AmbiguousScoreDiff {
			return OutcomeAmbiguous
		}
	}
	if top.Score >= autoFloor {
		return OutcomeSingle
	}
	return OutcomeUncertain
}

// scoreRecord computes the composite score of one record against the
// profile.
func (m *Matcher) scoreRecord(profile Profile, rec ssot.Record) (float64, Detail) {
	var detail Detail

	best := 0.0
	recordNames := append([]string{rec.Attributes.FullName()}, rec.Attributes.AlternateNames...)
	for _, pn := range profile.Names {
		for _, rn := range recordNames {
			if r := resolve.MatchNames(pn, rn); r.Score > best {
				best = r.Score
			}
		}
	}
	detail.NameScore = best

	score := weightName * detail.NameScore
	weightSum := weightName

	dateScore, dateOK := m.dateProximity(profile, rec.Attributes)
	if dateOK {
		detail.DateScore = dateScore
		detail.DateIncluded = true
		score += weightDate * dateScore
		weightSum += weightDate
	}

	locScore, locOK := locationOverlap(profile, rec.Attributes)
	if locOK {
		detail.LocationScore = locScore
		detail.LocIncluded = true
		score += weightLocation * locScore
		weightSum += weightLocation
	}

	return math.Round(score/weightSum*100) / 100, detail
}

// dateProximity averages birth and death proximity over the dates both
// sides actually have. A date pair scores full credit within tolerance and
// decays linearly outside it.
func (m *Matcher) dateProximity(profile Profile, attrs ssot.PersonAttributes) (float64, bool) {
	var scores []float64

	if s, ok := proximity(profile.BirthDate, attrs.BirthDate, m.thresholds.BirthToleranceDays); ok {
		scores = append(scores, s)
	}
	if s, ok := proximity(profile.DeathDate, attrs.DeathDate, m.thresholds.DeathToleranceDays); ok {
		scores = append(scores, s)
	}

	if len(scores) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), true
}

func proximity(a, b string, toleranceDays int) (float64, bool) {
	da, okA := model.ParseDate(a)
	db, okB := model.ParseDate(b)
	if !okA || !okB {
		return 0, false
	}
	diff := model.DaysApart(da, db)
	if diff <= toleranceDays {
		return 1.0, true
	}
	decayed := 1.0 - float64(diff-toleranceDays)/365.0
	if decayed < 0 {
		decayed = 0
	}
	return decayed, true
}

// locationOverlap uses normalized containment over the location pairs both
// sides have.
func locationOverlap(profile Profile, attrs ssot.PersonAttributes) (float64, bool) {
	pairs := [][2]string{
		{profile.BirthPlace, attrs.BirthPlace},
		{profile.DeathPlace, attrs.DeathPlace},
		{profile.Residence, attrs.ResidencePlace},
	}

	var scores []float64
	for _, pair := range pairs {
		a := normalizeLocation(pair[0])
		b := normalizeLocation(pair[1])
		if a == "" || b == "" {
			continue
		}
		if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
			scores = append(scores, 1.0)
		} else {
			scores = append(scores, 0)
		}
	}

	if len(scores) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), true
}

func normalizeLocation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,")
	return strings.Join(strings.Fields(s), " ")
}
