package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicmesh/enroll/internal/platform/metrics"
	"github.com/civicmesh/enroll/internal/positions"
	"github.com/civicmesh/enroll/internal/sheets/sheetstest"
	"github.com/civicmesh/enroll/internal/tablestore"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

var adminNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(fake *sheetstest.Fake) *Service {
	m := metrics.New(nil)
	tables := tablestore.New(fake, m)
	allocator := positions.New(tables, m)
	return New(tables, allocator)
}

func seedApplication(fake *sheetstest.Fake, userID int64, positionID int, status tablestore.ExpertStatus) {
	expert := tablestore.ExpertRecord{
		UserID:     userID,
		FullName:   "Dana Levi",
		Field:      "Hydrology",
		Experience: "Water authority, 12 years.",
		PositionID: positionID,
		Links:      "https://example.org/dana",
		Motivation: "I will map every aquifer in the region.",
		CreatedAt:  adminNow.Add(-24 * time.Hour),
		Status:     status,
	}
	fake.Seed(string(tablestore.TableExperts), [][]string{expert.Row()})

	assigned := adminNow.Add(-24 * time.Hour)
	position := tablestore.PositionRecord{
		ID:         positionID,
		Title:      "Position 1",
		OccupantID: userID,
		AssignedAt: &assigned,
	}
	fake.Seed(string(tablestore.TablePositions), [][]string{position.Row()})
}

func TestApproveExpert(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusPending)
	service := newTestService(fake)

	if err := service.ApproveExpert(context.Background(), 41, "https://chat.example.org/invite"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	record, err := tablestore.ParseExpertRecord(fake.Rows(string(tablestore.TableExperts))[0])
	if err != nil {
		t.Fatalf("parse expert row: %v", err)
	}
	if record.Status != tablestore.ExpertStatusApproved {
		t.Fatalf("status = %s, want approved", record.Status)
	}
	if record.GroupLink != "https://chat.example.org/invite" {
		t.Fatalf("group link = %q", record.GroupLink)
	}

	position, err := tablestore.ParsePositionRecord(fake.Rows(string(tablestore.TablePositions))[0])
	if err != nil {
		t.Fatalf("parse position row: %v", err)
	}
	if position.OccupantID != 41 {
		t.Fatalf("occupant after approval = %d, want 41", position.OccupantID)
	}
}

func TestApproveFailureLeavesApplicationPending(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusPending)
	service := newTestService(fake)

	fake.FailNext("update", 1, 400)
	if err := service.ApproveExpert(context.Background(), 41, "https://chat.example.org/invite"); err == nil {
		t.Fatal("expected approve to fail")
	}

	record, err := tablestore.ParseExpertRecord(fake.Rows(string(tablestore.TableExperts))[0])
	if err != nil {
		t.Fatalf("parse expert row: %v", err)
	}
	if record.Status != tablestore.ExpertStatusPending || record.GroupLink != "" {
		t.Fatalf("failed approval must not change the row, got status=%s link=%q", record.Status, record.GroupLink)
	}

	// A pending row stays approvable; the retry commits status and link
	// together.
	if err := service.ApproveExpert(context.Background(), 41, "https://chat.example.org/invite"); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	record, err = tablestore.ParseExpertRecord(fake.Rows(string(tablestore.TableExperts))[0])
	if err != nil {
		t.Fatalf("parse expert row: %v", err)
	}
	if record.Status != tablestore.ExpertStatusApproved || record.GroupLink != "https://chat.example.org/invite" {
		t.Fatalf("retry left partial approval: status=%s link=%q", record.Status, record.GroupLink)
	}
}

func TestApproveRequiresPending(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusRejected)
	service := newTestService(fake)

	err := service.ApproveExpert(context.Background(), 41, "https://chat.example.org/invite")
	if apperrors.CodeOf(err) != apperrors.CodeFlowStateInvalid {
		t.Fatalf("approve rejected application error = %v, want FLOW_STATE_INVALID", err)
	}
}

func TestApproveUnknownUser(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusPending)
	service := newTestService(fake)

	err := service.ApproveExpert(context.Background(), 999, "https://chat.example.org/invite")
	if !errors.Is(err, tablestore.ErrNotFound) {
		t.Fatalf("approve unknown user error = %v, want not found", err)
	}
}

func TestRejectExpertFreesPosition(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusPending)
	service := newTestService(fake)

	if err := service.RejectExpert(context.Background(), 41); err != nil {
		t.Fatalf("reject: %v", err)
	}

	record, err := tablestore.ParseExpertRecord(fake.Rows(string(tablestore.TableExperts))[0])
	if err != nil {
		t.Fatalf("parse expert row: %v", err)
	}
	if record.Status != tablestore.ExpertStatusRejected {
		t.Fatalf("status = %s, want rejected", record.Status)
	}

	position, err := tablestore.ParsePositionRecord(fake.Rows(string(tablestore.TablePositions))[0])
	if err != nil {
		t.Fatalf("parse position row: %v", err)
	}
	if !position.Free() {
		t.Fatalf("position after rejection = %+v, want free", position)
	}
}

func TestRejectRequiresPending(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusApproved)
	service := newTestService(fake)

	err := service.RejectExpert(context.Background(), 41)
	if apperrors.CodeOf(err) != apperrors.CodeFlowStateInvalid {
		t.Fatalf("reject approved application error = %v, want FLOW_STATE_INVALID", err)
	}

	position, parseErr := tablestore.ParsePositionRecord(fake.Rows(string(tablestore.TablePositions))[0])
	if parseErr != nil {
		t.Fatalf("parse position row: %v", parseErr)
	}
	if position.OccupantID != 41 {
		t.Fatalf("occupant after refused rejection = %d, want 41", position.OccupantID)
	}
}

func TestResetPosition(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusPending)
	service := newTestService(fake)

	if err := service.ResetPosition(context.Background(), 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	position, err := tablestore.ParsePositionRecord(fake.Rows(string(tablestore.TablePositions))[0])
	if err != nil {
		t.Fatalf("parse position row: %v", err)
	}
	if !position.Free() {
		t.Fatalf("position after reset = %+v, want free", position)
	}
}

func TestReprovisionSkipsPopulatedTable(t *testing.T) {
	fake := sheetstest.New()
	seedApplication(fake, 41, 1, tablestore.ExpertStatusPending)
	service := newTestService(fake)

	if err := service.Reprovision(context.Background(), 50); err != nil {
		t.Fatalf("reprovision: %v", err)
	}
	if rows := fake.Rows(string(tablestore.TablePositions)); len(rows) != 1 {
		t.Fatalf("positions rows = %d, want untouched 1", len(rows))
	}
}
