// Package admin implements the moderation operations on expert applications
// and numbered positions.
package admin

import (
	"context"
	"log"
	"strconv"

	"github.com/civicmesh/enroll/internal/positions"
	"github.com/civicmesh/enroll/internal/tablestore"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

// Service exposes the admin operations. All operations act directly on the
// tables; there is no separate moderation queue.
type Service struct {
	tables    *tablestore.Store
	allocator *positions.Allocator
}

// New creates a Service.
func New(tables *tablestore.Store, allocator *positions.Allocator) *Service {
	return &Service{
		tables:    tables,
		allocator: allocator,
	}
}

// ApproveExpert marks a pending application approved and records the group
// invite link the expert should receive. Only pending applications can be
// approved.
func (s *Service) ApproveExpert(ctx context.Context, userID int64, groupLink string) error {
	record, rowIndex, err := s.findApplication(ctx, userID)
	if err != nil {
		return err
	}
	if record.Status != tablestore.ExpertStatusPending {
		return apperrors.WithMetadata(apperrors.CodeFlowStateInvalid, "application is not pending",
			map[string]string{"status": string(record.Status)})
	}
	// Status and group link land in one row write, so a failure never leaves
	// an approved application without its link.
	record.Status = tablestore.ExpertStatusApproved
	record.GroupLink = groupLink
	if err := s.tables.UpdateRow(ctx, tablestore.TableExperts, rowIndex, record.Row()); err != nil {
		return err
	}
	log.Printf("approved expert user_id=%d position=%d", userID, record.PositionID)
	return nil
}

// RejectExpert marks a pending application rejected and frees the position
// it holds. Only pending applications can be rejected.
func (s *Service) RejectExpert(ctx context.Context, userID int64) error {
	record, rowIndex, err := s.findApplication(ctx, userID)
	if err != nil {
		return err
	}
	if record.Status != tablestore.ExpertStatusPending {
		return apperrors.WithMetadata(apperrors.CodeFlowStateInvalid, "application is not pending",
			map[string]string{"status": string(record.Status)})
	}
	if err := s.tables.UpdateCell(ctx, tablestore.TableExperts, rowIndex, tablestore.ExpertsStatusColumn, string(tablestore.ExpertStatusRejected)); err != nil {
		return err
	}
	if record.PositionID > 0 {
		if err := s.allocator.Reset(ctx, record.PositionID); err != nil {
			return err
		}
	}
	log.Printf("rejected expert user_id=%d position=%d", userID, record.PositionID)
	return nil
}

// ResetPosition frees one position regardless of its occupant.
func (s *Service) ResetPosition(ctx context.Context, positionID int) error {
	return s.allocator.Reset(ctx, positionID)
}

// ResetAllPositions frees every position in one batched write.
func (s *Service) ResetAllPositions(ctx context.Context) error {
	return s.allocator.ResetAll(ctx)
}

// Reprovision seeds the Positions table with count placeholder rows when it
// is empty. A populated table is left untouched.
func (s *Service) Reprovision(ctx context.Context, count int) error {
	return s.allocator.Provision(ctx, count)
}

// findApplication locates a user's expert application row.
func (s *Service) findApplication(ctx context.Context, userID int64) (tablestore.ExpertRecord, int, error) {
	row, rowIndex, err := s.tables.FindByKey(ctx, tablestore.TableExperts, 0, strconv.FormatInt(userID, 10))
	if err != nil {
		return tablestore.ExpertRecord{}, 0, err
	}
	record, err := tablestore.ParseExpertRecord(row)
	if err != nil {
		return tablestore.ExpertRecord{}, 0, err
	}
	return record, rowIndex, nil
}
