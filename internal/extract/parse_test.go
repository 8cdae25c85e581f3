package extract

import (
	"strings"
	"testing"

	"kinforge/internal/model"
)

const sampleResponse = `{
  "facts": [
    {
      "type": "name",
      "subject": "Margaret Anne Sullivan",
      "subject_role": "deceased_primary",
      "value": "Margaret Anne Sullivan",
      "confidence": 0.98
    },
    {
      "type": "death_date",
      "subject": "Margaret Anne Sullivan",
      "subject_role": "deceased_primary",
      "value": "2024-03-15",
      "context": "passed away peacefully on March 15, 2024",
      "confidence": 0.95
    },
    {
      "type": "survived_by",
      "subject": "Margaret Anne Sullivan",
      "subject_role": "deceased_primary",
      "value": "",
      "related_subject": "James Sullivan",
      "relationship_type": "Son",
      "confidence": 0.9
    },
    {
      "type": "birth_date",
      "subject": "Margaret Anne Sullivan",
      "subject_role": "deceased_primary",
      "value": "circa 1942",
      "is_inferred": true,
      "inference_basis": "age 82 at death",
      "uncertainty_flags": ["approximate_date"],
      "confidence": 0.6
    }
  ]
}`

func TestParseResponse(t *testing.T) {
	facts, dropped, err := ParseResponse("doc-1", sampleResponse)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(dropped) != 0 {
		t.Fatalf("unexpected drops: %v", dropped)
	}
	if len(facts) != 4 {
		t.Fatalf("got %d facts, want 4", len(facts))
	}

	for _, f := range facts {
		if f.DocumentID != "doc-1" {
			t.Errorf("fact %s has document %q", f.Type, f.DocumentID)
		}
		if f.Status != model.StatusUnresolved {
			t.Errorf("fact %s starts in status %q", f.Type, f.Status)
		}
	}

	rel := facts[2]
	if rel.Type != model.FactSurvivedBy || rel.RelatedName != "James Sullivan" {
		t.Errorf("relational fact parsed as %+v", rel)
	}
	if rel.RelationshipType != "son" {
		t.Errorf("relationship type not lowercased: %q", rel.RelationshipType)
	}

	inferred := facts[3]
	if !inferred.Inferred || inferred.InferenceBasis == "" {
		t.Errorf("inference metadata lost: %+v", inferred)
	}
	if len(inferred.UncertaintyFlags) != 1 || inferred.UncertaintyFlags[0] != "approximate_date" {
		t.Errorf("uncertainty flags = %v", inferred.UncertaintyFlags)
	}
	if inferred.RawConfidence == nil || *inferred.RawConfidence != 0.6 {
		t.Errorf("raw confidence = %v", inferred.RawConfidence)
	}
}

func TestParseResponseDropsInvalidEntries(t *testing.T) {
	raw := `{"facts": [
		{"type": "favorite_color", "subject": "Margaret", "value": "blue"},
		{"type": "name", "subject": "", "value": "Margaret Sullivan"},
		{"type": "gender", "subject": "Margaret Sullivan", "value": ""},
		{"type": "survived_by", "subject": "Margaret Sullivan", "value": ""},
		{"type": "death_date", "subject": "Margaret Sullivan", "value": "2024-03-15", "confidence": 1.8},
		{"type": "name", "subject": "Margaret Sullivan", "value": "Margaret Sullivan"}
	]}`

	facts, dropped, err := ParseResponse("doc-1", raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1 survivor", len(facts))
	}
	if len(dropped) != 5 {
		t.Fatalf("got %d drops, want 5: %v", len(dropped), dropped)
	}
	for _, want := range []string{"unknown fact type", "missing subject", "missing value", "related subject", "confidence"} {
		found := false
		for _, d := range dropped {
			if strings.Contains(d, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no drop reason mentioning %q in %v", want, dropped)
		}
	}
}

func TestParseResponseFencedAndBareArray(t *testing.T) {
	fenced := "```json\n" + sampleResponse + "\n```"
	facts, _, err := ParseResponse("doc-1", fenced)
	if err != nil {
		t.Fatalf("fenced response: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("fenced response yielded %d facts", len(facts))
	}

	bare := `[{"type": "name", "subject": "A B", "value": "A B"}]`
	facts, _, err = ParseResponse("doc-1", bare)
	if err != nil {
		t.Fatalf("bare array response: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("bare array yielded %d facts", len(facts))
	}
}

func TestParseResponseMalformed(t *testing.T) {
	if _, _, err := ParseResponse("doc-1", "I'm sorry, I can't help with that."); err == nil {
		t.Fatal("expected an error for a non-JSON response")
	}
}

func TestBuildPromptVersions(t *testing.T) {
	text := "Margaret Anne Sullivan, 82, of Springfield..."

	v2 := BuildPrompt(text, "v2")
	if !strings.Contains(v2, text) {
		t.Fatal("document text missing from prompt")
	}
	if !strings.Contains(v2, "uncertainty_flags") {
		t.Fatal("v2 prompt should describe uncertainty flags")
	}

	fallback := BuildPrompt(text, "v99")
	if fallback != v2 {
		t.Fatal("unknown prompt version should fall back to the latest")
	}

	if BuildPrompt(text, "v1") == v2 {
		t.Fatal("v1 and v2 prompts should differ")
	}
}
