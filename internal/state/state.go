package state

import (
	"context"
	"time"
)

// RelayInfo describes one live forwarded connection.
type RelayInfo struct {
	ID      string    `json:"id"`
	Client  string    `json:"client"`
	Remote  string    `json:"remote"`
	Started time.Time `json:"started"`
}

// Stats is a point-in-time summary for the dashboard and state API.
type Stats struct {
	ActiveRelays int   `json:"active_relays"`
	TotalRelays  int64 `json:"total_relays"`
	Rejected     int64 `json:"rejected"`
	BytesSent    int64 `json:"bytes_client_to_remote"`
	BytesRecv    int64 `json:"bytes_remote_to_client"`
}

// Store tracks live forwarder state. The in-memory implementation serves a
// single instance; the Redis-backed one additionally publishes relay
// presence with expiring keys so a fleet can be observed centrally. State
// is ephemeral either way; nothing survives the relays it describes.
type Store interface {
	RelayOpened(info RelayInfo)
	RelayClosed(id string, bytesSent, bytesRecv int64)
	ConnRejected(reason string)
	ActiveRelays() []RelayInfo
	Stats() Stats

	SetReady(ready bool)
	SetClosing(closing bool)
	IsReady() bool
	IsClosing() bool

	// StartMaintenance runs periodic upkeep (TTL heartbeats for the Redis
	// backend) until ctx is cancelled. The in-memory store returns
	// immediately.
	StartMaintenance(ctx context.Context)
}
