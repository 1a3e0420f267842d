package tablestore

import (
	"fmt"
	"strconv"
	"time"
)

// Table names a remote registration table. The value doubles as the sheet
// title on the remote document.
type Table string

const (
	// TableUsers holds one append-only row per completed registration.
	TableUsers Table = "Users"
	// TableExperts holds one row per completed expert application.
	TableExperts Table = "Experts"
	// TablePositions holds the fixed pool of numbered positions.
	TablePositions Table = "Positions"
)

// Column layout is fixed and positional; the first sheet row is a header and
// data rows start at row 2.
const (
	dataStartRow = 2

	usersColumns     = 10 // id, name, username, role, city, email, phone, reason, referrer, created
	expertsColumns   = 10 // user id, full name, field, experience, position, links, motivation, created, status, group link
	positionsColumns = 5  // id, title, description, occupant, assigned at
)

// Experts table column indexes needed for point updates.
const (
	ExpertsStatusColumn    = 8
	ExpertsGroupLinkColumn = 9
)

// Positions table column indexes needed for point updates.
const (
	PositionsOccupantColumn   = 3
	PositionsAssignedAtColumn = 4
)

// timeLayout is the cell encoding for timestamps.
const timeLayout = time.RFC3339

// Role is a registered user's role.
type Role string

const (
	RoleSupporter Role = "supporter"
	RoleExpert    Role = "expert"
	RoleAdmin     Role = "admin"
)

// ExpertStatus is the review status of an expert application.
type ExpertStatus string

const (
	ExpertStatusPending  ExpertStatus = "pending"
	ExpertStatusApproved ExpertStatus = "approved"
	ExpertStatusRejected ExpertStatus = "rejected"
)

// UserRecord is one row of the Users table.
type UserRecord struct {
	ID         int64
	Name       string
	Username   string
	Role       Role
	City       string
	Email      string
	Phone      string
	Reason     string
	ReferrerID int64 // zero when the user arrived without a referral
	CreatedAt  time.Time
}

// Row encodes the record in column order.
func (r UserRecord) Row() []string {
	referrer := ""
	if r.ReferrerID != 0 {
		referrer = strconv.FormatInt(r.ReferrerID, 10)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Name,
		r.Username,
		string(r.Role),
		r.City,
		r.Email,
		r.Phone,
		r.Reason,
		referrer,
		r.CreatedAt.UTC().Format(timeLayout),
	}
}

// ParseUserRecord decodes a Users row. Rows with missing columns are
// rejected rather than padded.
func ParseUserRecord(row []string) (UserRecord, error) {
	if len(row) < usersColumns {
		return UserRecord{}, fmt.Errorf("users row has %d columns, want %d", len(row), usersColumns)
	}
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return UserRecord{}, fmt.Errorf("parse user id %q: %w", row[0], err)
	}
	record := UserRecord{
		ID:       id,
		Name:     row[1],
		Username: row[2],
		Role:     Role(row[3]),
		City:     row[4],
		Email:    row[5],
		Phone:    row[6],
		Reason:   row[7],
	}
	if row[8] != "" {
		referrer, err := strconv.ParseInt(row[8], 10, 64)
		if err != nil {
			return UserRecord{}, fmt.Errorf("parse referrer id %q: %w", row[8], err)
		}
		record.ReferrerID = referrer
	}
	if row[9] != "" {
		createdAt, err := time.Parse(timeLayout, row[9])
		if err != nil {
			return UserRecord{}, fmt.Errorf("parse user created at %q: %w", row[9], err)
		}
		record.CreatedAt = createdAt
	}
	return record, nil
}

// ExpertRecord is one row of the Experts table.
type ExpertRecord struct {
	UserID     int64
	FullName   string
	Field      string
	Experience string
	PositionID int
	Links      string
	Motivation string
	CreatedAt  time.Time
	Status     ExpertStatus
	GroupLink  string
}

// Row encodes the record in column order.
func (r ExpertRecord) Row() []string {
	return []string{
		strconv.FormatInt(r.UserID, 10),
		r.FullName,
		r.Field,
		r.Experience,
		strconv.Itoa(r.PositionID),
		r.Links,
		r.Motivation,
		r.CreatedAt.UTC().Format(timeLayout),
		string(r.Status),
		r.GroupLink,
	}
}

// ParseExpertRecord decodes an Experts row.
func ParseExpertRecord(row []string) (ExpertRecord, error) {
	if len(row) < expertsColumns {
		return ExpertRecord{}, fmt.Errorf("experts row has %d columns, want %d", len(row), expertsColumns)
	}
	userID, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return ExpertRecord{}, fmt.Errorf("parse expert user id %q: %w", row[0], err)
	}
	positionID, err := strconv.Atoi(row[4])
	if err != nil {
		return ExpertRecord{}, fmt.Errorf("parse expert position id %q: %w", row[4], err)
	}
	record := ExpertRecord{
		UserID:     userID,
		FullName:   row[1],
		Field:      row[2],
		Experience: row[3],
		PositionID: positionID,
		Links:      row[5],
		Motivation: row[6],
		Status:     ExpertStatus(row[8]),
		GroupLink:  row[9],
	}
	if row[7] != "" {
		createdAt, err := time.Parse(timeLayout, row[7])
		if err != nil {
			return ExpertRecord{}, fmt.Errorf("parse expert created at %q: %w", row[7], err)
		}
		record.CreatedAt = createdAt
	}
	return record, nil
}

// PositionRecord is one row of the Positions table.
type PositionRecord struct {
	ID          int
	Title       string
	Description string
	OccupantID  int64      // zero when the position is free
	AssignedAt  *time.Time // nil when unassigned
}

// Free reports whether no expert occupies the position.
func (r PositionRecord) Free() bool {
	return r.OccupantID == 0
}

// Row encodes the record in column order.
func (r PositionRecord) Row() []string {
	occupant := ""
	if r.OccupantID != 0 {
		occupant = strconv.FormatInt(r.OccupantID, 10)
	}
	assigned := ""
	if r.AssignedAt != nil {
		assigned = r.AssignedAt.UTC().Format(timeLayout)
	}
	return []string{
		strconv.Itoa(r.ID),
		r.Title,
		r.Description,
		occupant,
		assigned,
	}
}

// ParsePositionRecord decodes a Positions row.
func ParsePositionRecord(row []string) (PositionRecord, error) {
	if len(row) < positionsColumns {
		return PositionRecord{}, fmt.Errorf("positions row has %d columns, want %d", len(row), positionsColumns)
	}
	id, err := strconv.Atoi(row[0])
	if err != nil {
		return PositionRecord{}, fmt.Errorf("parse position id %q: %w", row[0], err)
	}
	record := PositionRecord{
		ID:          id,
		Title:       row[1],
		Description: row[2],
	}
	if row[3] != "" {
		occupant, err := strconv.ParseInt(row[3], 10, 64)
		if err != nil {
			return PositionRecord{}, fmt.Errorf("parse position occupant %q: %w", row[3], err)
		}
		record.OccupantID = occupant
	}
	if row[4] != "" {
		assignedAt, err := time.Parse(timeLayout, row[4])
		if err != nil {
			return PositionRecord{}, fmt.Errorf("parse position assigned at %q: %w", row[4], err)
		}
		record.AssignedAt = &assignedAt
	}
	return record, nil
}

// tableColumns is the fixed column count of a table.
func tableColumns(table Table) int {
	switch table {
	case TablePositions:
		return positionsColumns
	default:
		return usersColumns
	}
}

// lastColumn returns the letter of a table's final column.
func lastColumn(table Table) string {
	switch table {
	case TablePositions:
		return "E"
	default:
		return "J"
	}
}

// dataRange is the A1 range covering all data rows of a table.
func dataRange(table Table) string {
	return fmt.Sprintf("A%d:%s", dataStartRow, lastColumn(table))
}

// rowRange is the A1 range covering one data row by zero-based index.
func rowRange(table Table, rowIndex int) string {
	sheetRow := rowIndex + dataStartRow
	return fmt.Sprintf("A%d:%s%d", sheetRow, lastColumn(table), sheetRow)
}

// cellRange is the A1 range of a single cell by zero-based row and column.
func cellRange(rowIndex, column int) string {
	return fmt.Sprintf("%c%d", 'A'+rune(column), rowIndex+dataStartRow)
}
