package relations

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db/models"
	"github.com/ai4hf/passport/internal/roles"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var studyOrgCols = []string{"study_id", "organization_id", "role", "responsible_personnel_id", "population_id"}

func newStudyOrgStore(t *testing.T) (*PostgresStore[string, string, models.OrganizationRoles], sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore[string, string](sqlx.NewDb(db, "sqlmock"), StudyOrganizationTable), mock
}

// ---------------------------------------------------------------------------
// Put / Create
// ---------------------------------------------------------------------------

func TestPostgresStore_PutInserted(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectQuery("INSERT INTO study_organization .* ON CONFLICT \\(study_id, organization_id\\) DO UPDATE").
		WithArgs("S1", "O1", "DATA_SCIENTIST,ML_ENGINEER", "P7", "").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	payload := models.OrganizationRoles{
		Roles:                  roles.NewSet(roles.MLEngineer, roles.DataScientist),
		ResponsiblePersonnelID: "P7",
	}
	inserted, err := s.Put(context.Background(), NewKey("S1", "O1"), payload)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_PutReplaced(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectQuery("INSERT INTO study_organization").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	inserted, err := s.Put(context.Background(), NewKey("S1", "O1"), models.OrganizationRoles{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if inserted {
		t.Error("inserted = true, want false")
	}
}

func TestPostgresStore_CreateConflict(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectExec("INSERT INTO study_organization .* DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Create(context.Background(), NewKey("S1", "O1"), models.OrganizationRoles{})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Create error = %v, want ErrConflict", err)
	}
}

func TestPostgresStore_CreateSuccess(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectExec("INSERT INTO study_organization").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Create(context.Background(), NewKey("S1", "O1"), models.OrganizationRoles{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestPostgresStore_PutDBError(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectQuery("INSERT INTO study_organization").WillReturnError(errors.New("db down"))

	if _, err := s.Put(context.Background(), NewKey("S1", "O1"), models.OrganizationRoles{}); err == nil {
		t.Fatal("expected error")
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestPostgresStore_GetNotFound(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectQuery("SELECT .* FROM study_organization WHERE study_id = \\$1 AND organization_id = \\$2").
		WithArgs("S1", "O9").
		WillReturnRows(sqlmock.NewRows(studyOrgCols))

	rel, err := s.Get(context.Background(), NewKey("S1", "O9"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel != nil {
		t.Errorf("Get = %+v, want nil", rel)
	}
}

func TestPostgresStore_GetByLeftDecodesRoles(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectQuery("SELECT .* FROM study_organization WHERE study_id = \\$1 ORDER BY seq").
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows(studyOrgCols).
			AddRow("S1", "O2", "STUDY_OWNER", "P1", "POP1").
			AddRow("S1", "O1", "", "", ""))

	rels, err := s.GetByLeft(context.Background(), "S1")
	if err != nil {
		t.Fatalf("GetByLeft: %v", err)
	}
	if len(rels) != 2 {
		t.Fatalf("len = %d, want 2", len(rels))
	}
	if rels[0].Key.Right != "O2" || !rels[0].Payload.Roles.Has(roles.StudyOwner) {
		t.Errorf("rels[0] = %+v", rels[0])
	}
	if rels[1].Payload.Roles.Len() != 0 {
		t.Errorf("rels[1] roles = %v, want empty", rels[1].Payload.Roles)
	}
}

func TestPostgresStore_GetByRightUnknownRole(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectQuery("WHERE organization_id = \\$1 ORDER BY seq").
		WillReturnRows(sqlmock.NewRows(studyOrgCols).AddRow("S1", "O1", "DATA_SCIENTIST,UNKNOWN_ROLE", "", ""))

	if _, err := s.GetByRight(context.Background(), "O1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestPostgresStore_Delete(t *testing.T) {
	s, mock := newStudyOrgStore(t)
	mock.ExpectExec("DELETE FROM study_organization").
		WithArgs("S1", "O1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM study_organization").
		WithArgs("S1", "O1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	deleted, err := s.Delete(ctx, NewKey("S1", "O1"))
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v; want deleted", deleted, err)
	}
	deleted, err = s.Delete(ctx, NewKey("S1", "O1"))
	if err != nil || deleted {
		t.Fatalf("second Delete = %v, %v; want no-op", deleted, err)
	}
}
