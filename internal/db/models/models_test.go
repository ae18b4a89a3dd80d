package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestActionKind(t *testing.T) {
	tests := []struct {
		kind  ActionKind
		valid bool
		verb  string
	}{
		{ActionCreation, true, "Creation"},
		{ActionDeletion, true, "Deletion"},
		{ActionUpdate, true, "Update"},
		{ActionKind("RENAME"), false, "RENAME"},
	}
	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.valid {
			t.Errorf("%s.Valid() = %v, want %v", tt.kind, got, tt.valid)
		}
		if got := tt.kind.Verb(); got != tt.verb {
			t.Errorf("%s.Verb() = %q, want %q", tt.kind, got, tt.verb)
		}
	}
}

func TestPersonnel_DisplayName(t *testing.T) {
	tests := []struct {
		p    Personnel
		want string
	}{
		{Personnel{FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{Personnel{FirstName: "Ada"}, "Ada"},
		{Personnel{LastName: "Lovelace"}, "Lovelace"},
		{Personnel{}, ""},
	}
	for _, tt := range tests {
		if got := tt.p.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestPassport_Approved(t *testing.T) {
	p := &Passport{ID: 1, StudyID: "S1", DeploymentID: "D1"}
	if p.Approved() {
		t.Error("new passport should not be approved")
	}
	now := time.Now()
	p.ApprovedAt = &now
	if !p.Approved() {
		t.Error("passport with ApprovedAt should be approved")
	}
	if s := p.Scope(); s.StudyID != "S1" || s.DeploymentID != "D1" {
		t.Errorf("Scope() = %+v", s)
	}
}

func TestSelectAll_JSONKeys(t *testing.T) {
	data, err := json.Marshal(SelectAll())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(m) != 11 {
		t.Fatalf("selection has %d fields, want 11", len(m))
	}
	for k, v := range m {
		if !v {
			t.Errorf("%s = false, want true", k)
		}
	}
}
