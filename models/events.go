package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SourceType names what granted a point event.
type SourceType string

const (
	SourceLike    SourceType = "like"
	SourceReply   SourceType = "reply"
	SourcePost    SourceType = "post"
	SourceCheckin SourceType = "checkin"
)

// Category is the numeric tag stored with each ledger entry.
func (s SourceType) Category() int {
	switch s {
	case SourceLike:
		return 1
	case SourceReply:
		return 2
	case SourcePost:
		return 3
	case SourceCheckin:
		return 4
	default:
		return 0
	}
}

// PointEvent is the broker payload granting points to a user.
type PointEvent struct {
	EventID    string     `json:"event_id,omitempty"`
	UserID     string     `json:"user_id"`
	SourceType SourceType `json:"source_type,omitempty"`
	Points     int        `json:"points"`
	Timestamp  int64      `json:"timestamp"`
}

// LikeChangedEvent is published whenever a toggle actually changed membership.
type LikeChangedEvent struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Liked      bool   `json:"liked"`
	UserID     string `json:"user_id"`
	Timestamp  int64  `json:"timestamp"`
}

var (
	errMissingUser   = errors.New("user_id is required")
	errBadPoints     = errors.New("points must be positive")
	errMissingEntity = errors.New("entity_type and entity_id are required")
)

// Validate reports whether the event can be applied to the ledger.
func (e PointEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return errMissingUser
	}
	if e.Points <= 0 {
		return errBadPoints
	}
	return nil
}

// OccurredAt converts the millisecond timestamp, falling back to now for zero values.
func (e PointEvent) OccurredAt() time.Time {
	if e.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(e.Timestamp)
}

// DedupToken returns the event id, deriving one from the payload when the producer sent none.
func (e PointEvent) DedupToken() string {
	if e.EventID != "" {
		return e.EventID
	}
	return EventToken(string(e.SourceType), e.UserID, strconv.Itoa(e.Points), strconv.FormatInt(e.Timestamp, 10))
}

// Validate reports whether the like-changed event names an entity and a user.
func (e LikeChangedEvent) Validate() error {
	if e.EntityType == "" || e.EntityID == "" {
		return errMissingEntity
	}
	if e.UserID == "" {
		return errMissingUser
	}
	return nil
}

// EventToken hashes the parts identifying an action into a stable dedup token.
func EventToken(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
