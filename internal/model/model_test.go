package model

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in       string
		want     time.Time
		circa    bool
		yearOnly bool
	}{
		{"1945-03-12", time.Date(1945, 3, 12, 0, 0, 0, 0, time.UTC), false, false},
		{"July 18, 2024", time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC), false, false},
		{"18 July 2024", time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC), false, false},
		{"circa 1950", time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), true, true},
		{"abt. 1950", time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), true, true},
		{"1950", time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), false, true},
	}
	for _, tc := range cases {
		d, ok := ParseDate(tc.in)
		if !ok {
			t.Errorf("ParseDate(%q) failed", tc.in)
			continue
		}
		if !d.Time.Equal(tc.want) || d.Circa != tc.circa || d.YearOnly != tc.yearOnly {
			t.Errorf("ParseDate(%q) = %v circa=%v yearOnly=%v, want %v circa=%v yearOnly=%v",
				tc.in, d.Time, d.Circa, d.YearOnly, tc.want, tc.circa, tc.yearOnly)
		}
		if d.Exact() != (!tc.circa && !tc.yearOnly) {
			t.Errorf("ParseDate(%q).Exact() = %v", tc.in, d.Exact())
		}
	}

	for _, bad := range []string{"", "   ", "sometime last spring", "32/13/2024"} {
		if _, ok := ParseDate(bad); ok {
			t.Errorf("ParseDate(%q) should fail", bad)
		}
	}
}

func TestDaysApart(t *testing.T) {
	a, _ := ParseDate("2024-07-18")
	b, _ := ParseDate("2024-05-20")
	if got := DaysApart(a, b); got != 59 {
		t.Errorf("DaysApart = %d, want 59", got)
	}
	if got := DaysApart(b, a); got != 59 {
		t.Errorf("DaysApart must be symmetric, got %d", got)
	}
	if got := DaysApart(a, a); got != 0 {
		t.Errorf("DaysApart(self) = %d, want 0", got)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to   ResolutionStatus
		userAction bool
		want       bool
	}{
		{StatusUnresolved, StatusResolved, false, true},
		{StatusUnresolved, StatusConflicting, false, true},
		{StatusUnresolved, StatusRejected, false, true},
		{StatusConflicting, StatusResolved, true, true},
		{StatusConflicting, StatusResolved, false, false},
		{StatusConflicting, StatusRejected, true, false},
		{StatusResolved, StatusUnresolved, true, false},
		{StatusRejected, StatusResolved, true, false},
		{StatusResolved, StatusResolved, false, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to, tc.userAction); got != tc.want {
			t.Errorf("CanTransition(%s, %s, user=%v) = %v, want %v", tc.from, tc.to, tc.userAction, got, tc.want)
		}
	}
}

func TestValidatePayload(t *testing.T) {
	valid := func() *Fact {
		return NewFact("doc-1", FactDeathDate, "Margaret Sullivan", "2024-07-18")
	}
	if err := valid().ValidatePayload(); err != nil {
		t.Fatalf("valid fact rejected: %v", err)
	}

	cases := []struct {
		name  string
		mut   func(*Fact)
		field string
	}{
		{"unknown type", func(f *Fact) { f.Type = "shoe_size" }, "fact_type"},
		{"empty subject", func(f *Fact) { f.SubjectName = "  " }, "subject_name"},
		{"empty value", func(f *Fact) { f.Value = "" }, "value"},
		{"unparseable date", func(f *Fact) { f.Value = "next Tuesday" }, "value"},
		{"inferred without basis", func(f *Fact) { f.Inferred = true }, "inference_basis"},
		{"confidence above one", func(f *Fact) { c := 1.5; f.RawConfidence = &c }, "raw_confidence"},
	}
	for _, tc := range cases {
		f := valid()
		tc.mut(f)
		err := f.ValidatePayload()
		ve, ok := err.(*ValidationError)
		if !ok {
			t.Errorf("%s: got %v, want *ValidationError", tc.name, err)
			continue
		}
		if ve.Field != tc.field {
			t.Errorf("%s: field = %q, want %q", tc.name, ve.Field, tc.field)
		}
	}

	age := NewFact("doc-1", FactDeathAge, "Margaret Sullivan", "142")
	if err := age.ValidatePayload(); err == nil {
		t.Error("age 142 should be rejected")
	}
	age.Value = "79"
	if err := age.ValidatePayload(); err != nil {
		t.Errorf("age 79 rejected: %v", err)
	}

	gender := NewFact("doc-1", FactGender, "Margaret Sullivan", "Female")
	if err := gender.ValidatePayload(); err != nil {
		t.Errorf("gender should match case-insensitively: %v", err)
	}
	gender.Value = "yes"
	if err := gender.ValidatePayload(); err == nil {
		t.Error("unknown gender value should be rejected")
	}

	rel := NewFact("doc-1", FactSurvivedBy, "Margaret Sullivan", "James Sullivan")
	if err := rel.ValidatePayload(); err == nil {
		t.Error("relational fact without related name should be rejected")
	}
	rel.RelatedName = "James Sullivan"
	if err := rel.ValidatePayload(); err != nil {
		t.Errorf("relational fact with related name rejected: %v", err)
	}

	kin := NewFact("doc-1", FactRelationship, "James Sullivan", "son")
	kin.RelatedName = "Margaret Sullivan"
	if err := kin.ValidatePayload(); err == nil {
		t.Error("relationship fact without relationship type should be rejected")
	}
}

func TestDecisionApprovalGuards(t *testing.T) {
	d := NewDecision("fact-1", "cluster-1", ActionAdd)
	d.ExtractedValue = "2024-07-18"

	if err := d.CheckCommittable(); err == nil {
		t.Error("pending decision must not be committable")
	}
	if err := d.Approve("", ""); err != nil {
		t.Fatalf("approving a non-conflict without a user: %v", err)
	}
	if err := d.CheckCommittable(); err != nil {
		t.Errorf("approved non-conflict should be committable: %v", err)
	}

	conflict := NewDecision("fact-2", "cluster-1", ActionUpdate)
	conflict.Conflict = true
	conflict.ExtractedValue = "2024-07-18"
	conflict.ExternalValue = "2024-05-20"

	if err := conflict.Approve("", ""); err == nil {
		t.Error("approving a conflict requires a user identity")
	}
	if err := conflict.Approve("reviewer", "date confirmed against the notice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := conflict.CheckCommittable(); err != nil {
		t.Errorf("approved conflict with approver should be committable: %v", err)
	}

	conflict.Approval = ApprovalCommitted
	if err := conflict.Approve("reviewer", ""); err == nil {
		t.Error("a committed decision must not be re-approved")
	}
	if err := conflict.CheckCommittable(); err == nil {
		t.Error("a committed decision must not commit twice")
	}
}

func TestDecisionResolve(t *testing.T) {
	mk := func() *ResolutionDecision {
		d := NewDecision("fact-1", "cluster-1", ActionUpdate)
		d.Conflict = true
		d.ExtractedValue = "2024-07-18"
		d.ExternalValue = "2024-05-20"
		return d
	}

	d := mk()
	if err := d.Resolve(ResolveKeepExternal, "reviewer", "", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Action != ActionSkip || d.Approval != ApprovalApproved {
		t.Errorf("keep_external: action=%s approval=%s", d.Action, d.Approval)
	}

	d = mk()
	if err := d.Resolve(ResolveUseExtracted, "reviewer", "", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Action != ActionUpdate || d.CommitValue() != "2024-07-18" {
		t.Errorf("use_extracted: action=%s value=%s", d.Action, d.CommitValue())
	}

	d = mk()
	if err := d.Resolve(ResolveManualEdit, "reviewer", "2024-07-19", ""); err == nil {
		t.Error("manual edit without justification must fail")
	}
	if err := d.Resolve(ResolveManualEdit, "reviewer", "2024-07-19", "corrected against the death certificate"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.CommitValue() != "2024-07-19" {
		t.Errorf("manual edit commit value = %s", d.CommitValue())
	}

	d = mk()
	if err := d.Resolve(ResolveUseExtracted, "", "", ""); err == nil {
		t.Error("resolving without a user identity must fail")
	}

	plain := NewDecision("fact-3", "cluster-1", ActionAdd)
	if err := plain.Resolve(ResolveUseExtracted, "reviewer", "", ""); err == nil {
		t.Error("resolving a non-conflict must fail")
	}
}

func TestClusterResolvedIdentityIsSticky(t *testing.T) {
	c := NewPersonCluster("Margaret Sullivan")
	if err := c.SetExternalRecord("I0001", false); err != nil {
		t.Fatalf("SetExternalRecord: %v", err)
	}

	c.Status = ClusterResolved
	if err := c.SetExternalRecord("I0002", false); err == nil {
		t.Error("re-pointing a resolved cluster without an override must fail")
	}
	if c.ExternalRecordID != "I0001" {
		t.Errorf("record id = %s, want I0001", c.ExternalRecordID)
	}
	if err := c.SetExternalRecord("I0002", true); err != nil {
		t.Errorf("user override should be allowed: %v", err)
	}
	if err := c.SetExternalRecord("I0002", false); err != nil {
		t.Errorf("re-asserting the same id is not a change: %v", err)
	}
}
