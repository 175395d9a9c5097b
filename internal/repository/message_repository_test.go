package repository

import (
	"context"
	"database/sql"
	"math"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
)

var messageViewColumns = []string{"id", "sender_id", "receiver_id", "subject", "content", "is_read", "read_at", "appointment_id", "created_at",
	"sender_ref_id", "sender_name", "sender_email", "sender_role",
	"receiver_ref_id", "receiver_name", "receiver_email", "receiver_role"}

var messageColumns = []string{"id", "sender_id", "receiver_id", "subject", "content", "is_read", "read_at", "appointment_id", "created_at"}

func TestMessageListUnreadOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(messageViewColumns).
		AddRow("m1", "x", "u", "Hi", "Hello", false, nil, nil, now, "x", "Xavier", "x@example.com", "teacher", "u", "Una", "u@example.com", "student")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.receiver_id = $1 AND m.is_read = FALSE ORDER BY m.created_at DESC LIMIT 5 OFFSET 5")).
		WithArgs("u").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages m WHERE m.receiver_id = $1 AND m.is_read = FALSE")).
		WithArgs("u").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	msgs, total, err := repo.List(context.Background(), models.MessageFilter{UserID: "u", UnreadOnly: true, Page: 2, PageSize: 5})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 6, total)
	assert.Equal(t, "Xavier", msgs[0].Sender.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageListHugePageKeepsOffsetInRange(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY m.created_at DESC LIMIT 100 OFFSET 2147483500")).
		WithArgs("u").
		WillReturnRows(sqlmock.NewRows(messageViewColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages m")).
		WithArgs("u").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	msgs, total, err := repo.List(context.Background(), models.MessageFilter{UserID: "u", Page: math.MaxInt64/50 + 2, PageSize: 100})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		name                       string
		page, size                 int
		wantPage, wantSize, offset int
	}{
		{"defaults", 0, 0, 1, 10, 0},
		{"caps size", 3, 500, 3, 100, 200},
		{"caps page", math.MaxInt64, 20, math.MaxInt32 / 20, 20, (math.MaxInt32/20 - 1) * 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, size, offset := normalizePage(tc.page, tc.size, 10, 100)
			assert.Equal(t, tc.wantPage, page)
			assert.Equal(t, tc.wantSize, size)
			assert.Equal(t, tc.offset, offset)
			assert.GreaterOrEqual(t, offset, 0)
		})
	}
}

func TestMessageListInvolvingKeepsMissingProjection(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(messageViewColumns).
		AddRow("m1", "gone", "u", "Hi", "Hello", false, nil, nil, now, nil, nil, nil, nil, "u", "Una", "u@example.com", "student")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.sender_id = $1 OR m.receiver_id = $1 ORDER BY m.created_at DESC")).
		WithArgs("u").
		WillReturnRows(rows)

	msgs, err := repo.ListInvolving(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Sender)
	assert.NotNil(t, msgs[0].Receiver)
}

func TestMessageListBetween(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("(m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1) ORDER BY m.created_at DESC LIMIT 50 OFFSET 0")).
		WithArgs("u", "x").
		WillReturnRows(sqlmock.NewRows(messageViewColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages m WHERE")).
		WithArgs("u", "x").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	msgs, total, err := repo.ListBetween(context.Background(), "u", "x", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageMarkReadKeepsFirstReadTime(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	first := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	at := first.Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SET is_read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND receiver_id = $2")).
		WithArgs("m1", "u", at).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow("m1", "x", "u", "Hi", "Hello", true, first, nil, first))

	msg, err := repo.MarkRead(context.Background(), "m1", "u", at)
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
	assert.Equal(t, first, *msg.ReadAt)
}

func TestMessageMarkReadForeign(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectQuery("UPDATE messages SET is_read").WillReturnError(sql.ErrNoRows)

	_, err := repo.MarkRead(context.Background(), "m1", "intruder", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMessageMarkThreadRead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE")).
		WithArgs("u", "x", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkThreadRead(context.Background(), "u", "x", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMessageDeleteAndCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE id = $1 AND (sender_id = $2 OR receiver_id = $2)")).
		WithArgs("m1", "u").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = FALSE")).
		WithArgs("u").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	assert.ErrorIs(t, repo.Delete(context.Background(), "m1", "u"), sql.ErrNoRows)
	n, err := repo.CountUnread(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
