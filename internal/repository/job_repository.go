package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slack_scheduler/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tableScheduledMessages = "scheduled_messages"

var scheduledMessageColumns = []string{
	"id::text",
	"workspace",
	"channel_id",
	"message",
	"send_at",
	"locked",
	"locked_until",
	"created_at",
}

// JobRepository is the postgres job store. Claims rely on FOR UPDATE SKIP LOCKED.
type JobRepository struct {
	db       *pgxpool.Pool
	sb       sq.StatementBuilderType
	leaseTTL time.Duration
}

// NewJobRepository creates the store. leaseTTL=0 disables lease expiry: a job
// claimed by a worker that dies stays locked until unlocked by hand.
func NewJobRepository(db *pgxpool.Pool, leaseTTL time.Duration) *JobRepository {
	if leaseTTL < 0 {
		leaseTTL = 0
	}
	return &JobRepository{
		db:       db,
		sb:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		leaseTTL: leaseTTL,
	}
}

// Insert – новая задача всегда создаётся разблокированной.
func (r *JobRepository) Insert(ctx context.Context, msg *models.ScheduledMessage) (string, error) {
	if err := validateInsert(msg); err != nil {
		return "", err
	}

	id := uuid.NewString()
	// timestamptz keeps microseconds
	sendAt := msg.SendAt.UTC().Truncate(time.Microsecond)

	q := r.sb.
		Insert(tableScheduledMessages).
		Columns("id", "workspace", "channel_id", "message", "send_at", "locked").
		Values(id, msg.Workspace, msg.ChannelID, msg.Message, sendAt, false).
		Suffix("RETURNING created_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert scheduled message sql: %w", err)
	}

	var createdAt time.Time
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&createdAt); err != nil {
		return "", storeErr("insert scheduled message", err)
	}

	msg.ID = id
	msg.SendAt = sendAt
	msg.Locked = false
	msg.LockedUntil = nil
	msg.CreatedAt = createdAt.UTC()
	return id, nil
}

// ClaimNextDue atomically locks one due job and returns it. The row is selected
// and locked in a single UPDATE; SKIP LOCKED makes concurrent callers pick different rows.
// now decides which jobs are due; leases are stamped and expired by the database clock.
func (r *JobRepository) ClaimNextDue(ctx context.Context, now time.Time) (models.ScheduledMessage, bool, error) {
	now = now.UTC()

	var lockedUntil any
	if r.leaseTTL > 0 {
		lockedUntil = sq.Expr("clock_timestamp() + make_interval(secs => ?)", r.leaseTTL.Seconds())
	}

	// subquery keeps '?' placeholders; the outer builder renumbers them.
	next := sq.
		Select("id").
		From(tableScheduledMessages).
		Where(sq.LtOrEq{"send_at": now}).
		Where(sq.Or{
			sq.Eq{"locked": false},
			sq.And{
				sq.NotEq{"locked_until": nil},
				sq.Expr("locked_until <= clock_timestamp()"),
			},
		}).
		OrderBy("send_at ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED")

	q := r.sb.
		Update(tableScheduledMessages).
		Set("locked", true).
		Set("locked_until", lockedUntil).
		Where(sq.Expr("id = (?)", next)).
		Suffix("RETURNING " + strings.Join(scheduledMessageColumns, ", "))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return models.ScheduledMessage{}, false, fmt.Errorf("build claim sql: %w", err)
	}

	msg, err := scanScheduledMessage(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ScheduledMessage{}, false, nil
		}
		return models.ScheduledMessage{}, false, storeErr("claim scheduled message", err)
	}
	return msg, true, nil
}

// MarkDelivered удаляет задачу. Отсутствие строки не ошибка: её мог удалить cancel.
func (r *JobRepository) MarkDelivered(ctx context.Context, id string) error {
	if _, err := r.deleteByID(ctx, id); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// Unlock returns the job to the due set. A missing row is not an error.
func (r *JobRepository) Unlock(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}

	q := r.sb.
		Update(tableScheduledMessages).
		Set("locked", false).
		Set("locked_until", nil).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build unlock sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sqlStr, args...); err != nil {
		return storeErr("unlock scheduled message", err)
	}
	return nil
}

// Release unlocks the job only while it still carries the lease of the claim that
// returned it; a holder whose lease expired and was re-claimed changes nothing.
func (r *JobRepository) Release(ctx context.Context, claimed models.ScheduledMessage) error {
	if _, err := uuid.Parse(claimed.ID); err != nil {
		return nil
	}

	held := sq.And{sq.Eq{"id": claimed.ID}, sq.Eq{"locked": true}}
	if claimed.LockedUntil != nil {
		held = append(held, sq.Eq{"locked_until": claimed.LockedUntil.UTC()})
	} else {
		held = append(held, sq.Eq{"locked_until": nil})
	}

	q := r.sb.
		Update(tableScheduledMessages).
		Set("locked", false).
		Set("locked_until", nil).
		Where(held)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build release sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sqlStr, args...); err != nil {
		return storeErr("release scheduled message", err)
	}
	return nil
}

// ListUpcoming returns the workspace's jobs with send_at >= since, oldest first.
func (r *JobRepository) ListUpcoming(ctx context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, fmt.Errorf("workspace is empty")
	}

	q := r.sb.
		Select(scheduledMessageColumns...).
		From(tableScheduledMessages).
		Where(sq.Eq{"workspace": workspace}).
		Where(sq.GtOrEq{"send_at": since.UTC()}).
		OrderBy("send_at ASC", "id ASC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list upcoming sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, storeErr("query upcoming", err)
	}
	defer rows.Close()

	res := make([]models.ScheduledMessage, 0)
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled message row: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate scheduled message rows", err)
	}
	return res, nil
}

// Cancel deletes the job whatever its lock state and reports whether a row was removed.
func (r *JobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	deleted, err := r.deleteByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	return deleted, nil
}

func (r *JobRepository) Stats(ctx context.Context, now time.Time) (models.JobStats, error) {
	q := r.sb.
		Select(
			"COUNT(*) FILTER (WHERE NOT locked)",
			"COUNT(*) FILTER (WHERE locked)",
		).
		Column(sq.Expr("COUNT(*) FILTER (WHERE NOT locked AND send_at <= ?)", now.UTC())).
		From(tableScheduledMessages)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return models.JobStats{}, fmt.Errorf("build stats sql: %w", err)
	}

	var st models.JobStats
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&st.Pending, &st.Locked, &st.Overdue); err != nil {
		return models.JobStats{}, storeErr("query job stats", err)
	}
	return st, nil
}

func (r *JobRepository) deleteByID(ctx context.Context, id string) (bool, error) {
	// not a uuid -> cannot exist; also keeps postgres from rejecting the cast
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	q := r.sb.
		Delete(tableScheduledMessages).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, storeErr("delete scheduled message", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanScheduledMessage(row pgx.Row) (models.ScheduledMessage, error) {
	var (
		m           models.ScheduledMessage
		lockedUntil pgtype.Timestamptz
	)
	if err := row.Scan(
		&m.ID,
		&m.Workspace,
		&m.ChannelID,
		&m.Message,
		&m.SendAt,
		&m.Locked,
		&lockedUntil,
		&m.CreatedAt,
	); err != nil {
		return models.ScheduledMessage{}, err
	}

	m.SendAt = m.SendAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		m.LockedUntil = &t
	}
	return m, nil
}

func validateInsert(msg *models.ScheduledMessage) error {
	if msg == nil {
		return fmt.Errorf("scheduled message is nil")
	}
	if strings.TrimSpace(msg.Workspace) == "" {
		return fmt.Errorf("workspace is empty")
	}
	if strings.TrimSpace(msg.ChannelID) == "" {
		return fmt.Errorf("channel_id is empty")
	}
	if strings.TrimSpace(msg.Message) == "" {
		return fmt.Errorf("message is empty")
	}
	if msg.SendAt.IsZero() {
		return fmt.Errorf("send_at is zero")
	}
	return nil
}
