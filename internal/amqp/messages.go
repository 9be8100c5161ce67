package amqp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ScanRequestMessage asks a worker to rescan one user
type ScanRequestMessage struct {
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// SubscriptionsReplacedMessage announces a finished scan. Consumers fetch the
// set itself from the store.
type SubscriptionsReplacedMessage struct {
	UserID    string    `json:"user_id"`
	ScanID    string    `json:"scan_id"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

var errMissingUserID = errors.New("message has no user_id")

func NewScanRequestMessage(userID, reason string) *ScanRequestMessage {
	return &ScanRequestMessage{
		UserID:      userID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
}

func (m *ScanRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ScanRequestMessageFromJSON decodes and checks a scan request
func ScanRequestMessageFromJSON(data []byte) (*ScanRequestMessage, error) {
	var msg ScanRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	if msg.UserID == "" {
		return nil, errMissingUserID
	}
	return &msg, nil
}

func NewSubscriptionsReplacedMessage(userID, scanID string, count int) *SubscriptionsReplacedMessage {
	return &SubscriptionsReplacedMessage{
		UserID:    userID,
		ScanID:    scanID,
		Count:     count,
		Timestamp: time.Now().UTC(),
	}
}

func (m *SubscriptionsReplacedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SubscriptionsReplacedMessageFromJSON(data []byte) (*SubscriptionsReplacedMessage, error) {
	var msg SubscriptionsReplacedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return nil, errMissingUserID
	}
	return &msg, nil
}
