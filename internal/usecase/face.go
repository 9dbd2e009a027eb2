package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/facematch"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/metrics"
	"github.com/example/face-attendance/internal/repository"
	"github.com/example/face-attendance/internal/retry"
)

const (
	snapshotKey   = "identities:snapshot"
	generationKey = "identities:generation"
)

// ErrNoDescriptors is returned when an enrollment payload holds no usable descriptor.
var ErrNoDescriptors = errors.New("no usable face descriptors")

// Repository defines the persistence operations needed by the use case.
type Repository interface {
	ListActiveIdentities(ctx context.Context, limit int) ([]facematch.Identity, error)
	CreateIdentity(ctx context.Context, identity *repository.Identity) error
	GetIdentity(ctx context.Context, id uint) (*repository.Identity, error)
	SetIdentityStatus(ctx context.Context, id uint, active bool) error
	SaveAttendance(ctx context.Context, log *repository.AttendanceLog) error
	FindAttendanceByRequestID(ctx context.Context, requestID string) (*repository.AttendanceLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Options tunes caching and the size of the identity snapshot.
type Options struct {
	SnapshotTTL   time.Duration
	ResultTTL     time.Duration
	MaxIdentities int
}

// FaceUseCase runs face matching, check-ins and enrollment.
type FaceUseCase struct {
	repo    Repository
	cache   Cache
	matcher *facematch.Matcher
	logger  *zap.Logger
	policy  retry.Policy
	opts    Options
	now     func() time.Time
}

// MatchOutcome is a match result annotated with the request it belongs to.
type MatchOutcome struct {
	RequestID string
	facematch.MatchResult
}

// CheckInRecord is the persisted and cached view of a check-in.
type CheckInRecord struct {
	RequestID  string    `json:"request_id"`
	OperatorID string    `json:"operator_id"`
	IdentityID *uint     `json:"identity_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Matched    bool      `json:"matched"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	LatencyMs  float64   `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnrollInput carries a new identity and its descriptor payload in any accepted shape.
type EnrollInput struct {
	Name       string
	Email      string
	Descriptor json.RawMessage
}

// NewFaceUseCase constructs a new use case instance.
func NewFaceUseCase(repo Repository, cache Cache, matcher *facematch.Matcher, logger *zap.Logger, opts Options) *FaceUseCase {
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 30 * time.Second
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Minute
	}
	return &FaceUseCase{
		repo:    repo,
		cache:   cache,
		matcher: matcher,
		logger:  logger.Named("face_usecase"),
		policy:  retry.DefaultPolicy,
		opts:    opts,
		now:     time.Now,
	}
}

// Match compares probe against the active identities without recording anything.
func (uc *FaceUseCase) Match(ctx context.Context, probe json.RawMessage) (*MatchOutcome, error) {
	requestID := uuid.NewString()
	result, err := uc.match(ctx, requestID, probe)
	if err != nil {
		return nil, err
	}
	return &MatchOutcome{RequestID: requestID, MatchResult: result}, nil
}

// CheckIn matches probe, records the attempt as an attendance log and caches the
// outcome under its request id.
func (uc *FaceUseCase) CheckIn(ctx context.Context, operatorID string, probe json.RawMessage) (*CheckInRecord, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.check_in", requestID)
	started := uc.now()

	vector, err := facematch.ParseProbe(probe)
	if err != nil {
		metrics.MatchesTotal.WithLabelValues(metrics.OutcomeInvalidProbe).Inc()
		return nil, err
	}
	result, err := uc.matchVector(ctx, requestID, vector)
	if err != nil {
		return nil, err
	}

	log := &repository.AttendanceLog{
		RequestID:  requestID,
		OperatorID: operatorID,
		Matched:    result.Matched,
		Distance:   result.Distance,
		Confidence: result.Confidence,
		Probe:      repository.NewProbeVector(vector),
		LatencyMs:  float64(uc.now().Sub(started).Microseconds()) / 1000,
		CreatedAt:  uc.now().UTC(),
	}
	if result.Matched {
		id := result.Identity.ID
		log.IdentityID = &id
		log.Name = result.Identity.Name
		log.Email = result.Identity.Email
	}
	if err := uc.repo.SaveAttendance(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_attendance", requestID, err)
		opLogger.Error("failed to persist attendance log", zap.Error(wrapped))
		return nil, wrapped
	}

	record := recordFromLog(log)
	if serialized, err := json.Marshal(record); err != nil {
		opLogger.Error("failed to serialize check-in", zap.Error(err))
	} else if err := uc.withRetry(ctx, requestID, "cache.set.checkin", func() error {
		return uc.cache.Set(ctx, checkInKey(requestID), string(serialized), uc.opts.ResultTTL)
	}); err != nil {
		// The log row is the source of truth; GetCheckIn falls back to it.
		opLogger.Warn("failed to cache check-in", zap.Error(err))
	}

	opLogger.Info("check-in processed",
		zap.Bool("matched", record.Matched),
		zap.Float64("confidence", record.Confidence),
		zap.String("operator_id", operatorID),
	)
	return record, nil
}

// GetCheckIn returns a check-in from the cache, or from the database on a miss.
func (uc *FaceUseCase) GetCheckIn(ctx context.Context, requestID string) (*CheckInRecord, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_check_in", requestID)

	cached, err := uc.withGet(ctx, requestID, "cache.get.checkin", checkInKey(requestID))
	if err == nil {
		var record CheckInRecord
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			return &record, nil
		}
		opLogger.Warn("failed to decode cached check-in", zap.Error(err))
	} else if !isMiss(err) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindAttendanceByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return recordFromLog(log), nil
}

// Enroll stores a new identity. The descriptor is re-encoded as a list of normalized
// vectors so every row written by this service has the same shape.
func (uc *FaceUseCase) Enroll(ctx context.Context, in EnrollInput) (*repository.Identity, error) {
	vectors, err := facematch.DecodeDescriptors(in.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDescriptors, err)
	}
	if len(vectors) == 0 {
		return nil, ErrNoDescriptors
	}

	canonical := make([][]float64, 0, len(vectors))
	for _, v := range vectors {
		canonical = append(canonical, v.Slice())
	}
	payload, err := json.Marshal(canonical)
	if err != nil {
		return nil, err
	}

	identity := &repository.Identity{
		Name:       strings.TrimSpace(in.Name),
		Email:      in.Email,
		Descriptor: string(payload),
		Status:     repository.StatusActive,
	}
	if err := uc.repo.CreateIdentity(ctx, identity); err != nil {
		return nil, err
	}
	uc.invalidateSnapshot(ctx)

	uc.logger.Info("identity enrolled", zap.Uint("identity_id", identity.ID), zap.Int("descriptors", len(vectors)))
	return identity, nil
}

// GetIdentity loads one enrolled identity.
func (uc *FaceUseCase) GetIdentity(ctx context.Context, id uint) (*repository.Identity, error) {
	return uc.repo.GetIdentity(ctx, id)
}

// SetIdentityStatus activates or deactivates an identity.
func (uc *FaceUseCase) SetIdentityStatus(ctx context.Context, id uint, active bool) error {
	if err := uc.repo.SetIdentityStatus(ctx, id, active); err != nil {
		return err
	}
	uc.invalidateSnapshot(ctx)
	return nil
}

func (uc *FaceUseCase) match(ctx context.Context, requestID string, probe json.RawMessage) (facematch.MatchResult, error) {
	vector, err := facematch.ParseProbe(probe)
	if err != nil {
		metrics.MatchesTotal.WithLabelValues(metrics.OutcomeInvalidProbe).Inc()
		return facematch.MatchResult{}, err
	}
	return uc.matchVector(ctx, requestID, vector)
}

func (uc *FaceUseCase) matchVector(ctx context.Context, requestID string, vector facematch.FeatureVector) (facematch.MatchResult, error) {
	identities, err := uc.snapshot(ctx, requestID)
	if err != nil {
		return facematch.MatchResult{}, err
	}

	started := time.Now()
	result := uc.matcher.MatchVector(vector, identities)
	metrics.MatchDuration.Observe(time.Since(started).Seconds())
	metrics.DescriptorsSkipped.Add(float64(result.Skipped))
	if result.Matched {
		metrics.MatchesTotal.WithLabelValues(metrics.OutcomeMatched).Inc()
	} else {
		metrics.MatchesTotal.WithLabelValues(metrics.OutcomeNoMatch).Inc()
	}

	logging.WithOperation(uc.logger, "usecase.match", requestID).Debug("match finished",
		zap.Int("identities", len(identities)),
		zap.Int("compared", result.Compared),
		zap.Int("skipped", result.Skipped),
		zap.Bool("matched", result.Matched),
		zap.Float64("distance", result.Distance),
	)
	return result, nil
}

// snapshot returns the active identities for one request. Each call decodes its own
// copy, so concurrent requests never share a slice.
//
// Snapshots are stored under the generation read before the database load. Invalidation
// bumps the generation, so a load that raced with an enroll or status change is written
// to a key no later request reads.
func (uc *FaceUseCase) snapshot(ctx context.Context, requestID string) ([]facematch.Identity, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.snapshot", requestID)

	key, cacheable := uc.currentSnapshotKey(ctx, requestID)
	if cacheable {
		cached, err := uc.withGet(ctx, requestID, "cache.get.snapshot", key)
		if err == nil {
			var identities []facematch.Identity
			if err := json.Unmarshal([]byte(cached), &identities); err == nil {
				metrics.SnapshotLoads.WithLabelValues("cache").Inc()
				return identities, nil
			}
			opLogger.Warn("failed to decode identity snapshot", zap.Error(err))
		} else if !isMiss(err) {
			opLogger.Warn("identity snapshot cache unavailable", zap.Error(err))
		}
	}

	identities, err := uc.repo.ListActiveIdentities(ctx, uc.opts.MaxIdentities)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.load_identities", requestID, err)
		opLogger.Error("failed to load identities", zap.Error(wrapped))
		return nil, wrapped
	}
	metrics.SnapshotLoads.WithLabelValues("database").Inc()

	if !cacheable {
		return identities, nil
	}
	if serialized, err := json.Marshal(identities); err == nil {
		if err := uc.withRetry(ctx, requestID, "cache.set.snapshot", func() error {
			return uc.cache.Set(ctx, key, string(serialized), uc.opts.SnapshotTTL)
		}); err != nil {
			opLogger.Warn("failed to cache identity snapshot", zap.Error(err))
		}
	}
	return identities, nil
}

// currentSnapshotKey resolves the cache key for the current snapshot generation. It reports
// false when the generation cannot be read; the caller then bypasses the cache.
func (uc *FaceUseCase) currentSnapshotKey(ctx context.Context, requestID string) (string, bool) {
	generation, err := uc.withGet(ctx, requestID, "cache.get.generation", generationKey)
	switch {
	case err == nil:
	case isMiss(err):
		generation = "0"
	default:
		uc.logger.Warn("identity snapshot generation unavailable", zap.String("request_id", requestID), zap.Error(err))
		return "", false
	}
	return snapshotCacheKey(generation), true
}

func (uc *FaceUseCase) invalidateSnapshot(ctx context.Context) {
	if err := uc.withRetry(ctx, "", "cache.incr.generation", func() error {
		_, err := uc.cache.Incr(ctx, generationKey)
		return err
	}); err != nil {
		uc.logger.Warn("failed to invalidate identity snapshot", zap.Error(err))
	}
}

func snapshotCacheKey(generation string) string {
	return fmt.Sprintf("%s:%s", snapshotKey, generation)
}

func (uc *FaceUseCase) withRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.logger, uc.policy, operation, requestID, fn)
}

func (uc *FaceUseCase) withGet(ctx context.Context, requestID, operation, key string) (string, error) {
	var result string
	err := uc.withRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func checkInKey(requestID string) string {
	return fmt.Sprintf("checkin:%s", requestID)
}

func recordFromLog(log *repository.AttendanceLog) *CheckInRecord {
	return &CheckInRecord{
		RequestID:  log.RequestID,
		OperatorID: log.OperatorID,
		IdentityID: log.IdentityID,
		Name:       log.Name,
		Email:      log.Email,
		Matched:    log.Matched,
		Distance:   log.Distance,
		Confidence: log.Confidence,
		LatencyMs:  log.LatencyMs,
		CreatedAt:  log.CreatedAt,
	}
}
