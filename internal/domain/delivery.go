package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DeliveryStatus is the terminal outcome recorded in the delivery log.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryLogEntry is written once per idempotency key.
type DeliveryLogEntry struct {
	IdempotencyKey string         `json:"idempotency_key" db:"idempotency_key"`
	CampaignID     string         `json:"campaign_id,omitempty" db:"campaign_id"`
	SubscriberID   string         `json:"subscriber_id,omitempty" db:"subscriber_id"`
	AutomationID   string         `json:"automation_id,omitempty" db:"automation_id"`
	Recipient      string         `json:"recipient" db:"recipient"`
	Subject        string         `json:"subject" db:"subject"`
	Status         DeliveryStatus `json:"status" db:"status"`
	MessageID      string         `json:"message_id,omitempty" db:"message_id"`
	Error          string         `json:"error,omitempty" db:"error"`
	Attempts       int            `json:"attempts" db:"attempts"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// IdempotencyKey hashes (campaignID, subscriberID, subject) into a stable key.
// A unit separator keeps ("ab","c") and ("a","bc") apart.
func IdempotencyKey(campaignID, subscriberID, subject string) string {
	sum := sha256.Sum256([]byte(campaignID + "\x1f" + subscriberID + "\x1f" + subject))
	return hex.EncodeToString(sum[:])
}
