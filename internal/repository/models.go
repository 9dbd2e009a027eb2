package repository

import (
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/example/face-attendance/internal/facematch"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Identity is an enrolled person. Descriptor keeps the payload exactly as it was
// stored, which for older rows may be any of the shapes facematch understands.
type Identity struct {
	ID         uint      `gorm:"primaryKey"`
	Name       string    `gorm:"column:name;size:255;not null"`
	Email      string    `gorm:"column:email;uniqueIndex;size:255;not null"`
	Descriptor string    `gorm:"column:face_descriptor;type:text"`
	Status     string    `gorm:"column:status;size:16;index;not null;default:active"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Identity) TableName() string {
	return "face_identities"
}

// ToMatchIdentity maps the row to the matcher's record type. A descriptor that is not
// valid JSON is dropped here; the matcher then skips the identity.
func (i Identity) ToMatchIdentity() facematch.Identity {
	var descriptor json.RawMessage
	if i.Descriptor != "" && json.Valid([]byte(i.Descriptor)) {
		descriptor = json.RawMessage(i.Descriptor)
	}
	return facematch.Identity{
		ID:         i.ID,
		Name:       i.Name,
		Email:      i.Email,
		Active:     i.Status == StatusActive,
		Descriptor: descriptor,
	}
}

// AttendanceLog records one check-in attempt, matched or not.
type AttendanceLog struct {
	ID         uint            `gorm:"primaryKey"`
	RequestID  string          `gorm:"column:request_id;uniqueIndex;size:64"`
	OperatorID string          `gorm:"column:operator_id;size:64;index"`
	IdentityID *uint           `gorm:"column:identity_id;index"`
	Name       string          `gorm:"column:name;size:255"`
	Email      string          `gorm:"column:email;size:255"`
	Matched    bool            `gorm:"column:matched"`
	Distance   float64         `gorm:"column:distance"`
	Confidence float64         `gorm:"column:confidence"`
	Probe      pgvector.Vector `gorm:"column:probe;type:vector(128)"`
	LatencyMs  float64         `gorm:"column:latency_ms"`
	CreatedAt  time.Time       `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (AttendanceLog) TableName() string {
	return "attendance_logs"
}

// NewProbeVector converts a descriptor to the pgvector column type.
func NewProbeVector(v facematch.FeatureVector) pgvector.Vector {
	return pgvector.NewVector(v.Float32())
}

// MetricsAggregation holds raw aggregates over attendance logs.
type MetricsAggregation struct {
	TotalCount        int64
	MatchedCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}
