package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpacer/internal/models"
)

var jobColumns = []string{"id", "campaign_id", "recipient_email", "scheduled_at", "sent_at", "status", "correlation_id", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestEmailJobRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	scheduledAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO email_jobs").
		WithArgs(int64(7), "a@x.com", scheduledAt, models.JobStatusScheduled, "pending-7-0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(11), time.Now(), time.Now()))

	job := &models.EmailJob{
		CampaignID:     7,
		RecipientEmail: "a@x.com",
		ScheduledAt:    scheduledAt,
		CorrelationID:  models.PlaceholderCorrelationID(7, 0),
	}
	require.NoError(t, repo.Create(context.Background(), job))

	assert.Equal(t, int64(11), job.ID)
	assert.Equal(t, models.JobStatusScheduled, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobRepository_CreateDuplicateCorrelation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	mock.ExpectQuery("INSERT INTO email_jobs").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "uq_email_jobs_correlation_id"`))

	err := repo.Create(context.Background(), &models.EmailJob{CampaignID: 1, CorrelationID: "dup"})
	assert.ErrorContains(t, err, "failed to create email job")
}

func TestEmailJobRepository_BindCorrelationID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	mock.ExpectExec("UPDATE email_jobs SET correlation_id").
		WithArgs("11", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_jobs SET correlation_id").
		WithArgs("99", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.BindCorrelationID(context.Background(), 11, "11"))
	assert.ErrorIs(t, repo.BindCorrelationID(context.Background(), 99, "99"), ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobRepository_FindByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM email_jobs WHERE id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow(int64(5), int64(2), "b@x.com", now, nil, "SCHEDULED", "5", now, now))
	mock.ExpectQuery("SELECT (.+) FROM email_jobs WHERE id = \\$1").
		WithArgs(int64(6)).
		WillReturnError(sql.ErrNoRows)

	job, err := repo.FindByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, job.Status)
	assert.Nil(t, job.SentAt)
	assert.Equal(t, "5", job.CorrelationID)

	_, err = repo.FindByID(context.Background(), 6)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobRepository_MarkSentOnlyFromScheduled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	sentAt := time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC)
	mock.ExpectExec("UPDATE email_jobs SET status = \\$1, sent_at = \\$2").
		WithArgs(models.JobStatusSent, sentAt, int64(5), models.JobStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_jobs SET status = \\$1, sent_at = \\$2").
		WithArgs(models.JobStatusSent, sentAt, int64(5), models.JobStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.MarkSent(context.Background(), 5, sentAt))
	assert.ErrorIs(t, repo.MarkSent(context.Background(), 5, sentAt), ErrJobNotScheduled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobRepository_MarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	mock.ExpectExec("UPDATE email_jobs SET status = \\$1, updated_at").
		WithArgs(models.JobStatusFailed, int64(5), models.JobStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_jobs SET status = \\$1, updated_at").
		WillReturnError(errors.New("connection refused"))

	assert.NoError(t, repo.MarkFailed(context.Background(), 5))
	err := repo.MarkFailed(context.Background(), 5)
	assert.ErrorContains(t, err, "failed to update email job status")
	assert.NotErrorIs(t, err, ErrJobNotScheduled)
}

func TestEmailJobRepository_ListScheduled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM email_jobs j JOIN campaigns c (.+) ORDER BY j.scheduled_at ASC").
		WithArgs(models.JobStatusScheduled, "user-1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_email", "scheduled_at", "sent_at", "status", "subject"}).
			AddRow(int64(1), "a@x.com", t1, nil, "SCHEDULED", "Hello").
			AddRow(int64(2), "b@x.com", t1.Add(time.Minute), nil, "SCHEDULED", "Hello"))

	items, err := repo.ListScheduled(context.Background(), "user-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Hello", items[0].Campaign.Subject)
	assert.True(t, items[0].ScheduledAt.Before(items[1].ScheduledAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobRepository_ListSent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	sent := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM email_jobs j JOIN campaigns c (.+) ORDER BY j.sent_at DESC").
		WithArgs(models.JobStatusSent, "user-1", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_email", "scheduled_at", "sent_at", "status", "subject"}).
			AddRow(int64(3), "c@x.com", sent, sent, "SENT", "Hi"))

	items, err := repo.ListSent(context.Background(), "user-1", 10, 20)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].SentAt)
	assert.Equal(t, models.JobStatusSent, items[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmailJobRepository_ListUnbound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmailJobRepository(db)

	cutoff := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("WHERE status = \\$1 AND correlation_id LIKE \\$2").
		WithArgs(models.JobStatusScheduled, "pending-%", cutoff, 100).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow(int64(8), int64(2), "d@x.com", cutoff, nil, "SCHEDULED", "pending-2-3", cutoff, cutoff))

	jobs, err := repo.ListUnbound(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].IsBound())
	assert.NoError(t, mock.ExpectationsWereMet())
}
