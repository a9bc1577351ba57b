package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// DocumentSavedMessage announces a tenant write. The worker reloads the
// document from storage, so only the key and the write stamp travel.
type DocumentSavedMessage struct {
	Tenant    string    `json:"tenant"`
	UpdatedAt time.Time `json:"updatedAt"`
	Timestamp time.Time `json:"timestamp"`
}

func NewDocumentSavedMessage(tenant string, updatedAt time.Time) *DocumentSavedMessage {
	return &DocumentSavedMessage{
		Tenant:    tenant,
		UpdatedAt: updatedAt,
		Timestamp: time.Now(),
	}
}

func (m *DocumentSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DocumentSavedMessageFromJSON rejects bodies without a tenant.
func DocumentSavedMessageFromJSON(data []byte) (*DocumentSavedMessage, error) {
	var msg DocumentSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Tenant == "" {
		return nil, errors.New("message has no tenant")
	}
	return &msg, nil
}
