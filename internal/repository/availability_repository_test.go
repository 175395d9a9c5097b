package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
)

var availabilityColumnNames = []string{"id", "teacher_id", "date", "start_time", "end_time", "is_available", "title", "notes", "created_at", "updated_at"}

func TestAvailabilityCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec("INSERT INTO availabilities").WillReturnError(&pq.Error{Code: "23505", Constraint: "availabilities_slot_uniq"})

	err := repo.Create(context.Background(), &models.Availability{TeacherID: "t1", Date: "2024-05-01", StartTime: "09:00", EndTime: "10:00"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAvailabilityListAvailableOnDate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(availabilityColumnNames).
		AddRow("a", "t1", "2024-05-01", "09:00", "10:00", true, "Office hours", "", now, now).
		AddRow("b", "t1", "2024-05-01", "13:00", "14:00", true, "Office hours", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE teacher_id = $1 AND date >= $2 AND date <= $3 AND is_available = TRUE ORDER BY date ASC, start_time ASC")).
		WithArgs("t1", "2024-05-01", "2024-05-01").
		WillReturnRows(rows)

	slots, err := repo.List(context.Background(), models.AvailabilityFilter{TeacherID: "t1", StartDate: "2024-05-01", EndDate: "2024-05-01", AvailableOnly: true})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityListWithoutRange(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM availabilities WHERE teacher_id = $1 ORDER BY date ASC, start_time ASC")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(availabilityColumnNames))

	_, err := repo.List(context.Background(), models.AvailabilityFilter{TeacherID: "t1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityFindOwnedForeignRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND teacher_id = $2")).
		WithArgs("slot", "other-teacher").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindOwned(context.Background(), "slot", "other-teacher")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAvailabilityUpdateScoped(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND teacher_id = ?")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Availability{ID: "slot", TeacherID: "t1"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAvailabilityDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM availabilities WHERE id = $1 AND teacher_id = $2")).
		WithArgs("slot", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "slot", "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
