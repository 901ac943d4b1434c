package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/adcondev/receipt-daemon/internal/receipt"
)

// jobModel is the print_jobs table row.
type jobModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Kind      string    `gorm:"size:32;not null"`
	Printer   string    `gorm:"size:255"`
	Paper     string    `gorm:"size:16"`
	Document  string    `gorm:"type:text;not null"`
	Status    string    `gorm:"size:16;not null;index"`
	Error     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (jobModel) TableName() string { return "print_jobs" }

func (m *jobModel) toJob() Job {
	return Job{
		ID:        m.ID,
		Kind:      receipt.Kind(m.Kind),
		Printer:   m.Printer,
		Paper:     m.Paper,
		Document:  []byte(m.Document),
		Status:    Status(m.Status),
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// OpenDB connects to the job database. driver is "sqlite" or "postgres".
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}
	if _, ok := dialector.(*sqlite.Dialector); ok {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; :memory: is private to its connection
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// SQL is a queue stored in a database table shared by several daemons. The
// claim is a conditional UPDATE, so only one poller wins a job.
type SQL struct {
	db        *gorm.DB
	batchSize int
}

// NewSQL migrates the print_jobs table and returns the queue. batchSize caps
// FetchPending; zero means no cap.
func NewSQL(db *gorm.DB, batchSize int) (*SQL, error) {
	if err := db.AutoMigrate(&jobModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate print_jobs: %w", err)
	}
	return &SQL{db: db, batchSize: batchSize}, nil
}

// Enqueue inserts a PENDING job.
func (q *SQL) Enqueue(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.Status = StatusPending
	job.Error = ""
	job.CreatedAt, job.UpdatedAt = now, now

	m := jobModel{
		ID:        job.ID,
		Kind:      string(job.Kind),
		Printer:   job.Printer,
		Paper:     job.Paper,
		Document:  string(job.Document),
		Status:    string(job.Status),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Job{}, fmt.Errorf("failed to insert job: %w", err)
	}
	return job, nil
}

// FetchPending implements Queue. Jobs come back oldest first.
func (q *SQL) FetchPending(ctx context.Context) ([]Job, error) {
	var rows []jobModel
	query := q.db.WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Order("created_at ASC, id ASC")
	if q.batchSize > 0 {
		query = query.Limit(q.batchSize)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	jobs := make([]Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

// Get loads one job.
func (q *SQL) Get(ctx context.Context, id string) (Job, error) {
	var m jobModel
	if err := q.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return m.toJob(), nil
}

// MarkPrinting implements Queue.
func (q *SQL) MarkPrinting(ctx context.Context, id string) error {
	return q.transition(ctx, id, StatusPending, StatusPrinting, "")
}

// MarkCompleted implements Queue.
func (q *SQL) MarkCompleted(ctx context.Context, id string) error {
	return q.transition(ctx, id, StatusPrinting, StatusCompleted, "")
}

// MarkFailed implements Queue.
func (q *SQL) MarkFailed(ctx context.Context, id string, reason string) error {
	return q.transition(ctx, id, StatusPrinting, StatusFailed, reason)
}

func (q *SQL) transition(ctx context.Context, id string, from, to Status, reason string) error {
	res := q.db.WithContext(ctx).
		Model(&jobModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"error":      reason,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return updateErr(id, to, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := q.Get(ctx, id)
	if err != nil {
		return updateErr(id, to, err)
	}
	return updateErr(id, to, transitionErr(current.Status, to))
}
