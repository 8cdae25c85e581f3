// Package resolve groups same-subject fact mentions into person clusters.
// Within one document, grouping by exact subject name is authoritative.
// Across documents, merges are only ever advisory.
package resolve

import (
	"math"
	"sort"

	"kinforge/internal/model"
)

// Clusterer builds person clusters from facts and proposes cross-document
// merges.
type Clusterer struct {
	thresholds model.Thresholds
}

// NewClusterer creates a clusterer with the run's threshold snapshot.
func NewClusterer(thresholds model.Thresholds) *Clusterer {
	return &Clusterer{thresholds: thresholds}
}

// ClusterDocument groups a document's facts by exact subject name. Two
// mentions of the same string within one document are the same local
// subject by construction.
func (c *Clusterer) ClusterDocument(facts []*model.Fact) []*model.PersonCluster {
	bySubject := make(map[string][]*model.Fact)
	var order []string
	for _, f := range facts {
		if _, seen := bySubject[f.SubjectName]; !seen {
			order = append(order, f.SubjectName)
		}
		bySubject[f.SubjectName] = append(bySubject[f.SubjectName], f)
	}

	clusters := make([]*model.PersonCluster, 0, len(order))
	for _, subject := range order {
		group := bySubject[subject]
		cluster := model.NewPersonCluster(subject)

		var sum float64
		for _, f := range group {
			sum += f.Confidence
			switch f.Type {
			case model.FactNickname:
				cluster.Nicknames = append(cluster.Nicknames, f.Value)
			case model.FactMaidenName:
				cluster.MaidenNames = append(cluster.MaidenNames, f.Value)
			case model.FactName:
				cluster.AddVariant(f.Value)
			}
			f.ClusterID = cluster.ID
		}

		cluster.FactCount = len(group)
		cluster.Confidence = math.Round(sum/float64(len(group))*100) / 100
		cluster.CanonicalName = canonicalName(cluster.NameVariants)
		clusters = append(clusters, cluster)
	}
	return clusters
}

// canonicalName picks the longest (most complete) variant.
func canonicalName(variants []string) string {
	best := ""
	for _, v := range variants {
		if len(v) > len(best) {
			best = v
		}
	}
	return best
}

// MergeProposal is an advisory suggestion to merge a new cluster into an
// existing one. Proposals never mutate anything by themselves.
type MergeProposal struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Score    float64 `json:"score"`
	Method   string  `json:"method"`

	// Ambiguous means several targets scored within tolerance of each
	// other; no automatic merge may happen.
	Ambiguous bool `json:"ambiguous"`

	// RequiresApproval is set when the target cluster is already
	// resolved; merging into it can never be silent.
	RequiresApproval bool `json:"requires_approval"`
}

// AutoMergeable reports whether the proposal may be applied without a user.
func (p MergeProposal) AutoMergeable(threshold float64) bool {
	return !p.Ambiguous && !p.RequiresApproval && p.Score >= threshold
}

// ProposeMerge scores a new cluster against existing clusters from other
// documents and proposes at most one merge target. Corroborating fact
// overlap (equal birth or death dates, equal maiden name) strengthens the
// name score.
func (c *Clusterer) ProposeMerge(source *model.PersonCluster, sourceFacts []*model.Fact, existing []*model.PersonCluster, existingFacts map[string][]*model.Fact) *MergeProposal {
	type scored struct {
		cluster *model.PersonCluster
		score   float64
		method  string
	}

	var candidates []scored
	for _, target := range existing {
		if target.ID == source.ID {
			continue
		}
		best := MatchResult{}
		for _, sv := range variantsOf(source) {
			for _, tv := range variantsOf(target) {
				if r := MatchNames(sv, tv); r.Score > best.Score {
					best = r
				}
			}
		}
		if best.Score == 0 {
			continue
		}

		score := best.Score + corroborationBonus(sourceFacts, existingFacts[target.ID])
		if score > 1.0 {
			score = 1.0
		}
		candidates = append(candidates, scored{cluster: target, score: score, method: best.Method})
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	top := candidates[0]
	if top.score < c.thresholds.FuzzyMatchThreshold {
		return nil
	}

	proposal := &MergeProposal{
		SourceID:         source.ID,
		TargetID:         top.cluster.ID,
		Score:            math.Round(top.score*100) / 100,
		Method:           top.method,
		RequiresApproval: top.cluster.Status == model.ClusterResolved,
	}

	// Multiple plausible targets within tolerance of each other: mark
	// ambiguous, never merge automatically.
	if len(candidates) > 1 &&
		candidates[1].score >= c.thresholds.FuzzyMatchThreshold &&
		top.score-candidates[1].score < c.thresholds.AmbiguousScoreDiff {
		proposal.Ambiguous = true
	}

	return proposal
}

func variantsOf(c *model.PersonCluster) []string {
	variants := append([]string{}, c.NameVariants...)
	if c.CanonicalName != "" {
		variants = append(variants, c.CanonicalName)
	}
	return variants
}

// corroborationBonus adds a fixed bonus per corroborating fact overlap:
// equal birth date, equal death date, equal maiden name.
func corroborationBonus(a, b []*model.Fact) float64 {
	var bonus float64
	if sharesValue(a, b, model.FactBirthDate) {
		bonus += 0.05
	}
	if sharesValue(a, b, model.FactDeathDate) {
		bonus += 0.05
	}
	if sharesValue(a, b, model.FactMaidenName) {
		bonus += 0.05
	}
	return bonus
}

func sharesValue(a, b []*model.Fact, t model.FactType) bool {
	values := map[string]bool{}
	for _, f := range a {
		if f.Type == t {
			values[NormalizeName(f.Value)] = true
		}
	}
	for _, f := range b {
		if f.Type == t && values[NormalizeName(f.Value)] {
			return true
		}
	}
	return false
}

// Merge folds the source cluster into the target: variants, nickname and
// maiden sets, counts, and a recomputed aggregate confidence. The caller is
// responsible for re-pointing facts and persisting both records.
func Merge(target, source *model.PersonCluster) {
	for _, v := range source.NameVariants {
		target.AddVariant(v)
	}
	target.Nicknames = appendUnique(target.Nicknames, source.Nicknames)
	target.MaidenNames = appendUnique(target.MaidenNames, source.MaidenNames)

	totalFacts := target.FactCount + source.FactCount
	if totalFacts > 0 {
		target.Confidence = math.Round((target.Confidence*float64(target.FactCount)+
			source.Confidence*float64(source.FactCount))/float64(totalFacts)*100) / 100
	}
	target.FactCount = totalFacts
	target.SourceCount += source.SourceCount
	target.CanonicalName = canonicalName(append(target.NameVariants, target.CanonicalName))
	if target.SourceCount > 1 && target.Status == model.ClusterUnverified {
		target.Status = model.ClusterVerified
	}
}

func appendUnique(dst, src []string) []string {
	seen := map[string]bool{}
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}
