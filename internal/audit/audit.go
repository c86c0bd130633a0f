// Package audit records who changed what. Writes never fail the operation
// that triggered them; a sink error is logged and dropped.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"call-insights-go/internal/logger"
)

const (
	ActionReviewUpsert         = "review.upsert"
	ActionJobFailed            = "job.failed"
	ActionTranscriptionEnqueue = "transcription.enqueue"
	ActionAnalysisEnqueue      = "analysis.enqueue"
	ActionCallIngest           = "call.ingest"
)

// SystemActor is the actor id used for entries produced by workers.
const SystemActor = "system"

type Entry struct {
	RestaurantID string
	ActorID      string
	Action       string
	EntityType   string
	EntityID     string
	Details      map[string]any
}

type Sink interface {
	Record(ctx context.Context, e Entry)
}

// Log is the persisted form of an Entry.
type Log struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	RestaurantID string         `gorm:"size:64;index" json:"restaurantId"`
	ActorID      string         `gorm:"size:64;not null" json:"actorId"`
	Action       string         `gorm:"size:64;not null;index" json:"action"`
	EntityType   string         `gorm:"size:64;not null" json:"entityType"`
	EntityID     string         `gorm:"size:64;not null;index" json:"entityId"`
	Details      datatypes.JSON `json:"details"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (Log) TableName() string {
	return "audit_logs"
}

// GormSink writes entries to audit_logs and mirrors them to the log.
type GormSink struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormSink(db *gorm.DB, log *logger.Logger) *GormSink {
	return &GormSink{db: db, log: log.Component("audit")}
}

func (s *GormSink) Record(ctx context.Context, e Entry) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}
	row := Log{
		RestaurantID: e.RestaurantID,
		ActorID:      e.ActorID,
		Action:       e.Action,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		Details:      datatypes.JSON(details),
		CreatedAt:    time.Now().UTC(),
	}
	entry := s.log.WithFields(logrus.Fields{
		"actor":  e.ActorID,
		"action": e.Action,
		"entity": e.EntityType + ":" + e.EntityID,
	})
	// detached context: an audit row should land even if the request was cancelled
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; err != nil {
		entry.WithError(err).Error("audit write failed")
		return
	}
	entry.Info("audit")
}

// Entries lists audit rows for an entity, oldest first.
func Entries(ctx context.Context, db *gorm.DB, entityType, entityID string) ([]Log, error) {
	var out []Log
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// Memory keeps entries in memory. Used where no database is wired.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(_ context.Context, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
