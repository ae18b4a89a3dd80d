// Package models - audit_log.go defines the append-only audit entry and the
// ledger link joining entries to passports.
package models

import (
	"encoding/json"
	"time"
)

// ActionKind classifies a tracked mutation.
type ActionKind string

const (
	ActionCreation ActionKind = "CREATION"
	ActionDeletion ActionKind = "DELETION"
	ActionUpdate   ActionKind = "UPDATE"
)

// Valid reports whether k is one of the three known kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreation, ActionDeletion, ActionUpdate:
		return true
	}
	return false
}

// Verb is the capitalised noun used in generated descriptions.
func (k ActionKind) Verb() string {
	switch k {
	case ActionCreation:
		return "Creation"
	case ActionDeletion:
		return "Deletion"
	case ActionUpdate:
		return "Update"
	}
	return string(k)
}

// AuditLog is one immutable audit entry. It is never updated or deleted.
type AuditLog struct {
	ID               string          `db:"audit_log_id" json:"auditLogId"`
	PersonID         string          `db:"person_id" json:"personId"`
	PersonName       string          `db:"person_name" json:"personName"`
	StudyID          *string         `db:"study_id" json:"studyId,omitempty"`
	OccurredAt       time.Time       `db:"occurred_at" json:"occurredAt"`
	ActionType       ActionKind      `db:"action_type" json:"actionType"`
	AffectedRelation string          `db:"affected_relation" json:"affectedRelation"`
	AffectedRecordID string          `db:"affected_record_id" json:"affectedRecordId"`
	AffectedRecord   json.RawMessage `db:"affected_record" json:"affectedRecord"`
	Description      string          `db:"description" json:"description"`
}

// LedgerLink joins a passport to an audit entry. Both sides are referenced by id only.
type LedgerLink struct {
	PassportID int64  `db:"passport_id" json:"passportId"`
	AuditLogID string `db:"audit_log_id" json:"auditLogId"`
}
