// Package conflict classifies a cluster's extracted facts against the
// matched external record: what is new, what is already known, and what
// materially disagrees.
package conflict

import (
	"fmt"
	"strings"

	"kinforge/internal/match"
	"kinforge/internal/model"
	"kinforge/internal/resolve"
	"kinforge/internal/ssot"
)

// Detector classifies clusters against matched records.
type Detector struct {
	thresholds model.Thresholds
}

// NewDetector creates a detector using the run's threshold snapshot.
func NewDetector(thresholds model.Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// Classify compares every asserted attribute with the best-matched record
// and derives the category. presumedLiving is set by the caller when the
// source document lists the subject only as a survivor.
//
// Category precedence, evaluated in order: any critical or high conflict
// makes the cluster a conflicting update; an ambiguous match ranking wins
// next; additions with no conflicts are a non-conflicting addition; no
// candidates at all is a new entity; everything else is redundant.
func (d *Detector) Classify(facts []*model.Fact, result *match.Result, presumedLiving bool) model.Classification {
	var c model.Classification

	var rec *ssot.Record
	if result != nil {
		c.Candidates = len(result.Candidates)
		if best := result.Best(); best != nil {
			rec = &best.Record
		}
	}

	if rec == nil {
		c.Category = model.CategoryNewEntity
		for _, f := range facts {
			if attributive(f.Type) {
				c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.Value})
			}
		}
		return c
	}
	c.MatchedID = rec.ID

	if presumedLiving && rec.Attributes.Deceased {
		c.Conflicts = append(c.Conflicts, model.AttributeConflict{
			Attribute:      model.FactDeathDate,
			ExtractedValue: "living",
			ExternalValue:  "deceased",
			Severity:       model.SeverityCritical,
			Detail:         "record marks the person deceased but the source lists them as a survivor",
		})
	}

	for _, f := range facts {
		d.classifyFact(f, rec, &c)
	}

	c.Category = d.category(&c, result)
	return c
}

func (d *Detector) category(c *model.Classification, result *match.Result) model.Category {
	for _, conflict := range c.Conflicts {
		if conflict.Severity == model.SeverityCritical || conflict.Severity == model.SeverityHigh {
			return model.CategoryConflictingUpdate
		}
	}
	if result.Outcome == match.OutcomeAmbiguous {
		return model.CategoryAmbiguousMatch
	}
	if len(c.Additions) >= 1 && len(c.Conflicts) == 0 {
		return model.CategoryNonConflictingAddition
	}
	if c.Candidates == 0 {
		return model.CategoryNewEntity
	}
	return model.CategoryRedundant
}

func (d *Detector) classifyFact(f *model.Fact, rec *ssot.Record, c *model.Classification) {
	attrs := rec.Attributes

	switch f.Type {
	case model.FactName:
		d.classifyName(f, attrs, c)

	case model.FactNickname, model.FactMaidenName:
		for _, alt := range attrs.AlternateNames {
			if resolve.NormalizeName(alt) == resolve.NormalizeName(f.Value) {
				c.Redundant = append(c.Redundant, model.AttributeRedundancy{Attribute: f.Type, Value: f.Value, NeedsCitation: true})
				return
			}
		}
		c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.Value})

	case model.FactGender:
		d.classifyGender(f, attrs, c)

	case model.FactBirthDate:
		d.classifyDate(f, attrs.BirthDate, d.thresholds.BirthToleranceDays, c)

	case model.FactDeathDate:
		d.classifyDate(f, attrs.DeathDate, d.thresholds.DeathToleranceDays, c)

	case model.FactLocationBirth:
		d.classifyLocation(f, attrs.BirthPlace, c)
	case model.FactLocationDeath:
		d.classifyLocation(f, attrs.DeathPlace, c)
	case model.FactLocationResidence:
		d.classifyLocation(f, attrs.ResidencePlace, c)

	case model.FactRelationship, model.FactMarriage, model.FactSurvivedBy, model.FactPrecededInDeath:
		d.classifyRelationship(f, rec, c)

	default:
		// Ages and other contextual facts inform scoring but are not
		// record attributes, so they carry no classification.
	}
}

func (d *Detector) classifyName(f *model.Fact, attrs ssot.PersonAttributes, c *model.Classification) {
	external := attrs.FullName()
	if external == "" {
		c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.Value})
		return
	}

	m := resolve.MatchNames(f.Value, external)
	switch {
	case m.Score >= 1.0:
		c.Redundant = append(c.Redundant, model.AttributeRedundancy{Attribute: f.Type, Value: f.Value, NeedsCitation: true})
	case m.Score >= 0.80:
		c.Conflicts = append(c.Conflicts, model.AttributeConflict{
			Attribute:      f.Type,
			ExtractedValue: f.Value,
			ExternalValue:  external,
			Severity:       model.SeverityLow,
			Detail:         "spelling or formatting variant of the recorded name",
		})
	default:
		c.Conflicts = append(c.Conflicts, model.AttributeConflict{
			Attribute:      f.Type,
			ExtractedValue: f.Value,
			ExternalValue:  external,
			Severity:       model.SeverityHigh,
		})
	}
}

func (d *Detector) classifyGender(f *model.Fact, attrs ssot.PersonAttributes, c *model.Classification) {
	if attrs.Gender == "" {
		c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.Value})
		return
	}
	if normalizeGender(f.Value) == normalizeGender(attrs.Gender) {
		c.Redundant = append(c.Redundant, model.AttributeRedundancy{Attribute: f.Type, Value: f.Value, NeedsCitation: true})
		return
	}
	c.Conflicts = append(c.Conflicts, model.AttributeConflict{
		Attribute:      f.Type,
		ExtractedValue: f.Value,
		ExternalValue:  attrs.Gender,
		Severity:       model.SeverityCritical,
	})
}

func (d *Detector) classifyDate(f *model.Fact, external string, toleranceDays int, c *model.Classification) {
	if external == "" {
		c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.Value})
		return
	}
	extracted, okA := model.ParseDate(f.Value)
	recorded, okB := model.ParseDate(external)
	if okA && okB && model.DaysApart(extracted, recorded) <= toleranceDays {
		c.Redundant = append(c.Redundant, model.AttributeRedundancy{Attribute: f.Type, Value: f.Value, NeedsCitation: true})
		return
	}
	c.Conflicts = append(c.Conflicts, model.AttributeConflict{
		Attribute:      f.Type,
		ExtractedValue: f.Value,
		ExternalValue:  external,
		Severity:       model.SeverityHigh,
		Detail:         fmt.Sprintf("outside the %d-day tolerance", toleranceDays),
	})
}

func (d *Detector) classifyLocation(f *model.Fact, external string, c *model.Classification) {
	if external == "" {
		c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.Value})
		return
	}
	a := normalizeText(f.Value)
	b := normalizeText(external)
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		c.Redundant = append(c.Redundant, model.AttributeRedundancy{Attribute: f.Type, Value: f.Value, NeedsCitation: true})
		return
	}
	c.Conflicts = append(c.Conflicts, model.AttributeConflict{
		Attribute:      f.Type,
		ExtractedValue: f.Value,
		ExternalValue:  external,
		Severity:       model.SeverityMedium,
	})
}

// classifyRelationship compares an asserted relationship with the record's
// edge for the same pair of people.
func (d *Detector) classifyRelationship(f *model.Fact, rec *ssot.Record, c *model.Classification) {
	if f.RelatedName == "" {
		return
	}
	relType := f.RelationshipType
	if relType == "" && f.Type == model.FactMarriage {
		relType = "spouse"
	}
	if relType == "" {
		c.Additions = append(c.Additions, model.AttributeAddition{Attribute: f.Type, Value: f.RelatedName})
		return
	}

	existing, found := edgeForPair(rec, f.RelatedName)
	if !found {
		c.Additions = append(c.Additions, model.AttributeAddition{
			Attribute: f.Type,
			Value:     fmt.Sprintf("%s (%s)", f.RelatedName, relType),
		})
		return
	}

	asserted := normalizeRelType(relType)
	recorded := normalizeRelType(existing.Type)
	switch {
	case asserted == recorded:
		c.Redundant = append(c.Redundant, model.AttributeRedundancy{Attribute: f.Type, Value: f.RelatedName, NeedsCitation: true})
	case generalizes(asserted, recorded) || generalizes(recorded, asserted):
		c.Conflicts = append(c.Conflicts, model.AttributeConflict{
			Attribute:      f.Type,
			ExtractedValue: relType,
			ExternalValue:  existing.Type,
			Severity:       model.SeverityMedium,
			Detail:         fmt.Sprintf("relationship detail for %s", f.RelatedName),
		})
	default:
		// Two incompatible relationship types for the same pair, for
		// example stepfather asserted over a recorded father.
		c.Conflicts = append(c.Conflicts, model.AttributeConflict{
			Attribute:      f.Type,
			ExtractedValue: relType,
			ExternalValue:  existing.Type,
			Severity:       model.SeverityCritical,
			Detail:         fmt.Sprintf("contradictory relationship type for %s", f.RelatedName),
		})
	}
}

// edgeForPair finds the record's relationship edge whose other endpoint has
// the given name. Edge endpoints hold record ids or display names depending
// on the store; names are compared normalized.
func edgeForPair(rec *ssot.Record, relatedName string) (ssot.RelationshipEdge, bool) {
	want := resolve.NormalizeName(relatedName)
	for _, e := range rec.Relationships {
		other := e.Person2
		if resolve.NormalizeName(e.Person1) != resolve.NormalizeName(rec.Attributes.FullName()) && e.Person1 != rec.ID {
			other = e.Person1
		}
		if resolve.NormalizeName(other) == want {
			return e, true
		}
	}
	return ssot.RelationshipEdge{}, false
}

// attributive reports whether a fact type maps to a record attribute and is
// therefore listed as an addition on a brand-new entity.
func attributive(t model.FactType) bool {
	switch t {
	case model.FactName, model.FactNickname, model.FactMaidenName, model.FactGender,
		model.FactBirthDate, model.FactDeathDate,
		model.FactLocationBirth, model.FactLocationDeath, model.FactLocationResidence:
		return true
	}
	return false
}

func normalizeGender(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "man":
		return "male"
	case "f", "female", "woman":
		return "female"
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,")
	return strings.Join(strings.Fields(s), " ")
}

// relGeneral maps gendered or specific relationship terms to their general
// kind. Step and in-law prefixes are deliberately NOT stripped: a step or
// in-law tie asserted over a blood tie is a contradiction, not a detail.
var relGeneral = map[string]string{
	"father": "parent", "mother": "parent",
	"son": "child", "daughter": "child",
	"brother": "sibling", "sister": "sibling",
	"husband": "spouse", "wife": "spouse",
	"grandfather": "grandparent", "grandmother": "grandparent",
	"grandson": "grandchild", "granddaughter": "grandchild",
}

func normalizeRelType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// generalizes reports whether a is the general kind of the specific term b,
// for example parent generalizes father.
func generalizes(a, b string) bool {
	return relGeneral[b] == a
}
