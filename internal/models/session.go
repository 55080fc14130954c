package models

import (
	"time"
)

// LiveSession records which replica owns a client's open streaming
// connection
type LiveSession struct {
	ID        string    `json:"id"`
	ReplicaID string    `json:"replicaId"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"createdAt"`
}
