package repository

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attendance/internal/facematch"
	"github.com/example/face-attendance/internal/retry"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when enrolling an email that already exists.
	ErrDuplicateEmail = errors.New("email already enrolled")
)

// Repository provides persistence for identities and attendance logs.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// New creates a repository. The gorm handle should be opened with TranslateError so
// unique violations surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.Named("repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the pgvector extension and the schema are available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		if err := r.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).AutoMigrate(&Identity{}, &AttendanceLog{})
	})
}

// ListActiveIdentities returns up to limit active identities in enrollment order, mapped
// to matcher records.
func (r *Repository) ListActiveIdentities(ctx context.Context, limit int) ([]facematch.Identity, error) {
	var rows []Identity
	err := r.executeWithRetry(ctx, "repository.list_active_identities", "", func() error {
		rows = nil
		q := r.db.WithContext(ctx).Where("status = ?", StatusActive).Order("id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]facematch.Identity, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToMatchIdentity())
	}
	return out, nil
}

// CreateIdentity enrolls a new identity. A unique violation on a retried insert is
// checked against the stored row, since an earlier attempt may have committed before
// its response was lost.
func (r *Repository) CreateIdentity(ctx context.Context, identity *Identity) error {
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	if identity.Status == "" {
		identity.Status = StatusActive
	}
	attempt := 0
	return r.executeWithRetry(ctx, "repository.create_identity", "", func() error {
		attempt++
		err := r.db.WithContext(ctx).Create(identity).Error
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		return resolveDuplicate(attempt, identity, func() (*Identity, error) {
			var existing Identity
			err := r.db.WithContext(ctx).Where("email = ?", identity.Email).First(&existing).Error
			return &existing, notFound(err)
		})
	})
}

// resolveDuplicate decides what a unique violation on the given attempt means. On a
// retry, a stored row identical to identity is our own earlier insert.
func resolveDuplicate(attempt int, identity *Identity, lookup func() (*Identity, error)) error {
	if attempt <= 1 {
		return ErrDuplicateEmail
	}
	existing, err := lookup()
	if errors.Is(err, ErrNotFound) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if existing.Name != identity.Name || existing.Descriptor != identity.Descriptor {
		return ErrDuplicateEmail
	}
	*identity = *existing
	return nil
}

// GetIdentity loads an identity by primary key.
func (r *Repository) GetIdentity(ctx context.Context, id uint) (*Identity, error) {
	var identity Identity
	err := r.executeWithRetry(ctx, "repository.get_identity", "", func() error {
		return notFound(r.db.WithContext(ctx).First(&identity, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// SetIdentityStatus activates or deactivates an identity.
func (r *Repository) SetIdentityStatus(ctx context.Context, id uint, active bool) error {
	status := StatusInactive
	if active {
		status = StatusActive
	}
	return r.executeWithRetry(ctx, "repository.set_identity_status", "", func() error {
		res := r.db.WithContext(ctx).Model(&Identity{}).Where("id = ?", id).Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveAttendance persists a check-in attempt.
func (r *Repository) SaveAttendance(ctx context.Context, log *AttendanceLog) error {
	return r.executeWithRetry(ctx, "repository.save_attendance", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindAttendanceByRequestID retrieves the check-in recorded under requestID.
func (r *Repository) FindAttendanceByRequestID(ctx context.Context, requestID string) (*AttendanceLog, error) {
	var log AttendanceLog
	err := r.executeWithRetry(ctx, "repository.find_attendance", requestID, func() error {
		return notFound(r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises all attendance logs. Average confidence only covers
// matched check-ins.
func (r *Repository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AttendanceLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count,
				COALESCE(AVG(CASE WHEN matched THEN confidence END), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *Repository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.logger, r.policy, operation, requestID, fn)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
