package extract

import "fmt"

// Prompt versions change extraction behavior, so the version participates in
// the cache key: a bumped prompt re-extracts everything.
const systemPrompt = `You are a meticulous genealogical research assistant. You extract facts from obituary text. You never invent information: every fact must be traceable to the text. When you infer a fact (for example a birth year from an age), you mark it inferred and state the basis.`

var promptBodies = map[string]string{
	"v1": promptV1,
	"v2": promptV2,
}

// BuildPrompt returns the user prompt for a version. Unknown versions fall
// back to the newest.
func BuildPrompt(text, version string) string {
	body, ok := promptBodies[version]
	if !ok {
		body = promptV2
	}
	return fmt.Sprintf(body, text)
}

const promptV1 = `Extract genealogical facts from this obituary. Respond with JSON only:
{"facts": [{"type": "...", "subject": "...", "value": "...", "context": "...", "confidence": 0.0}]}

Fact types: name, nickname, maiden_name, birth_date, death_date, birth_age, death_age, gender, relationship, marriage, location_birth, location_death, location_residence, survived_by, preceded_in_death.

Obituary text:
%s`

const promptV2 = `Extract every genealogical fact from this obituary. Respond with JSON only, no prose:

{
  "facts": [
    {
      "type": "<fact type>",
      "subject": "<full name of the person the fact is about>",
      "subject_role": "<deceased_primary|spouse|child|parent|sibling|grandparent|grandchild|in_law|other>",
      "value": "<the fact's value>",
      "related_subject": "<other person, for relational facts>",
      "relationship_type": "<e.g. father, stepmother, wife, for relational facts>",
      "context": "<the sentence the fact came from>",
      "is_inferred": false,
      "inference_basis": "<required when is_inferred is true>",
      "confidence": 0.0,
      "uncertainty_flags": ["<e.g. pronoun_ambiguity, approximate_date, conflicting_statement>"]
    }
  ]
}

Rules:
- Fact types: name, nickname, maiden_name, birth_date, death_date, birth_age, death_age, gender, relationship, marriage, location_birth, location_death, location_residence, survived_by, preceded_in_death.
- Dates in ISO form (1945-03-12) when the text gives a full date; "circa YYYY" when approximate.
- The subject is always a person's name, never a pronoun. If a pronoun cannot be resolved with certainty, add the pronoun_ambiguity flag.
- Nicknames in quotes or brackets ("Peggy") are nickname facts; "née X" gives a maiden_name fact.
- Do not extract facts about institutions, funeral homes, or charities.

Obituary text:
%s`
