package types

import (
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	StatusReceived          SessionStatus = "received"
	StatusTranscriptPending SessionStatus = "transcript_pending"
	StatusTranscriptReady   SessionStatus = "transcript_ready"
	StatusAnalyzing         SessionStatus = "analyzing"
	StatusCompleted         SessionStatus = "completed"
	StatusTranscriptFailed  SessionStatus = "transcript_failed"
	StatusAnalysisFailed    SessionStatus = "analysis_failed"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallSession is one phone call and its pipeline state. FromNumber is kept in
// full here and is never serialized; outward views carry a masked copy.
type CallSession struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	RestaurantID    string         `json:"restaurantId" gorm:"size:64;not null;index:idx_sessions_tenant_started,priority:1;uniqueIndex:idx_sessions_provider_call,priority:1"`
	Provider        string         `json:"provider" gorm:"size:64;not null;uniqueIndex:idx_sessions_provider_call,priority:2"`
	ProviderCallID  string         `json:"providerCallId" gorm:"size:128;not null;uniqueIndex:idx_sessions_provider_call,priority:3"`
	Direction       Direction      `json:"direction" gorm:"size:16"`
	FromNumber      string         `json:"-" gorm:"size:32"`
	ToNumber        string         `json:"toNumber" gorm:"size:32"`
	StartedAt       time.Time      `json:"startedAt" gorm:"not null;index:idx_sessions_tenant_started,priority:2"`
	EndedAt         *time.Time     `json:"endedAt,omitempty"`
	DurationSeconds int            `json:"durationSeconds" gorm:"index"`
	Status          SessionStatus  `json:"status" gorm:"size:32;index"`
	AudioURL        string         `json:"audioUrl,omitempty" gorm:"size:1024"`
	Metadata        datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (CallSession) TableName() string { return "call_sessions" }

// Turn is one speaker segment of a transcript.
type Turn struct {
	Speaker  string  `json:"speaker"`
	Text     string  `json:"text"`
	StartSec float64 `json:"startSec,omitempty"`
	EndSec   float64 `json:"endSec,omitempty"`
}

type Transcript struct {
	ID             string                    `json:"id" gorm:"primaryKey;size:36"`
	CallSessionID  string                    `json:"callSessionId" gorm:"size:36;not null;uniqueIndex"`
	TranscriptText string                    `json:"transcriptText" gorm:"type:text"`
	TranscriptJSON datatypes.JSONSlice[Turn] `json:"transcriptJson"`
	Language       string                    `json:"language,omitempty" gorm:"size:16"`
	STTProvider    string                    `json:"sttProvider,omitempty" gorm:"size:64"`
	STTConfidence  float64                   `json:"sttConfidence"`
	CreatedAt      time.Time                 `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time                 `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Transcript) TableName() string { return "transcripts" }

type Insights struct {
	ID                     string                      `json:"id" gorm:"primaryKey;size:36"`
	CallSessionID          string                      `json:"callSessionId" gorm:"size:36;not null;uniqueIndex"`
	Summary                string                      `json:"summary" gorm:"type:text"`
	IntentPrimary          string                      `json:"intentPrimary" gorm:"size:64;index"`
	IntentsSecondary       datatypes.JSONSlice[string] `json:"intentsSecondary"`
	Outcome                string                      `json:"outcome" gorm:"size:64;index"`
	Sentiment              string                      `json:"sentiment" gorm:"size:32;index"`
	FrictionPoints         datatypes.JSONSlice[string] `json:"frictionPoints"`
	ImprovementSuggestions datatypes.JSONSlice[string] `json:"improvementSuggestions"`
	ExtractedEntities      datatypes.JSON              `json:"extractedEntities,omitempty"`
	QualityScore           float64                     `json:"qualityScore"`
	Model                  string                      `json:"model,omitempty" gorm:"size:128"`
	CreatedAt              time.Time                   `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt              time.Time                   `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Insights) TableName() string { return "call_insights" }

// Review is a human annotation; one per session, replaced wholesale on write.
type Review struct {
	ID             string                      `json:"id" gorm:"primaryKey;size:36"`
	CallSessionID  string                      `json:"callSessionId" gorm:"size:36;not null;uniqueIndex"`
	ReviewedBy     string                      `json:"reviewedBy" gorm:"size:64;not null"`
	ReviewedAt     time.Time                   `json:"reviewedAt"`
	InternalNotes  string                      `json:"internalNotes,omitempty" gorm:"type:text"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	FollowUpAction string                      `json:"followUpAction,omitempty" gorm:"size:255"`
	CreatedAt      time.Time                   `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time                   `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Review) TableName() string { return "call_reviews" }

// SessionTransition is the append-only log of guarded state changes.
type SessionTransition struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	CallSessionID string        `json:"callSessionId" gorm:"size:36;not null;index"`
	FromState     SessionStatus `json:"fromState" gorm:"size:32"`
	ToState       SessionStatus `json:"toState" gorm:"size:32"`
	Reason        string        `json:"reason,omitempty" gorm:"size:255"`
	OccurredAt    time.Time     `json:"occurredAt" gorm:"not null;index"`
}

func (SessionTransition) TableName() string { return "session_transitions" }
