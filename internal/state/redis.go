package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkarls/portfwd/internal/obs"
	"github.com/redis/go-redis/v9"
)

// relayData is the JSON form stored in Redis, tagged with the publishing
// instance so a fleet dashboard can attribute relays.
type relayData struct {
	RelayInfo
	Instance string `json:"instance"`
}

// redisStore implements Store backed by Redis so several forwarder
// instances can be observed together. The authoritative connection table
// stays local; Redis only carries live presence under expiring keys, which
// the maintenance heartbeat keeps refreshed while a relay is running.
type redisStore struct {
	client     *redis.Client
	instanceID string

	mu      sync.Mutex
	relays  map[string]RelayInfo // relays owned by this instance
	total   int64
	reject  int64
	sent    int64
	recv    int64
	ready   bool
	closing bool

	heartbeatInterval time.Duration
	keyTTL            time.Duration
}

func NewRedisStore(addr, password string, db int) (Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStore{
		client:            rdb,
		instanceID:        fmt.Sprintf("portfwd-%d", time.Now().UnixNano()),
		relays:            make(map[string]RelayInfo),
		heartbeatInterval: 30 * time.Second,
		keyTTL:            2 * time.Minute,
	}, nil
}

var _ Store = (*redisStore)(nil)

func relayKey(id string) string { return "portfwd:relay:" + id }

func (r *redisStore) RelayOpened(info RelayInfo) {
	r.mu.Lock()
	r.relays[info.ID] = info
	r.total++
	r.mu.Unlock()

	data, err := json.Marshal(relayData{RelayInfo: info, Instance: r.instanceID})
	if err != nil {
		obs.Error("redis.marshal_relay", obs.Fields{"err": err.Error(), "id": info.ID})
		return
	}
	ctx := context.Background()
	if err := r.client.Set(ctx, relayKey(info.ID), data, r.keyTTL).Err(); err != nil {
		obs.Error("redis.set_relay", obs.Fields{"err": err.Error(), "id": info.ID})
	}
}

func (r *redisStore) RelayClosed(id string, bytesSent, bytesRecv int64) {
	r.mu.Lock()
	delete(r.relays, id)
	r.sent += bytesSent
	r.recv += bytesRecv
	r.mu.Unlock()

	ctx := context.Background()
	pipe := r.client.Pipeline()
	pipe.Del(ctx, relayKey(id))
	pipe.IncrBy(ctx, "portfwd:bytes:client_to_remote", bytesSent)
	pipe.IncrBy(ctx, "portfwd:bytes:remote_to_client", bytesRecv)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.close_relay", obs.Fields{"err": err.Error(), "id": id})
	}
}

func (r *redisStore) ConnRejected(reason string) {
	r.mu.Lock()
	r.reject++
	r.mu.Unlock()
	if err := r.client.Incr(context.Background(), "portfwd:rejected:"+reason).Err(); err != nil {
		obs.Error("redis.incr_rejected", obs.Fields{"err": err.Error(), "reason": reason})
	}
}

func (r *redisStore) ActiveRelays() []RelayInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RelayInfo, 0, len(r.relays))
	for _, info := range r.relays {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Stats reports this instance's view. Counting relays fleet-wide would need
// a SCAN over the keyspace; local counts are enough for the dashboard.
func (r *redisStore) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		ActiveRelays: len(r.relays),
		TotalRelays:  r.total,
		Rejected:     r.reject,
		BytesSent:    r.sent,
		BytesRecv:    r.recv,
	}
}

func (r *redisStore) SetReady(ready bool)     { r.mu.Lock(); r.ready = ready; r.mu.Unlock() }
func (r *redisStore) SetClosing(closing bool) { r.mu.Lock(); r.closing = closing; r.mu.Unlock() }
func (r *redisStore) IsReady() bool           { r.mu.Lock(); defer r.mu.Unlock(); return r.ready }
func (r *redisStore) IsClosing() bool         { r.mu.Lock(); defer r.mu.Unlock(); return r.closing }

// StartMaintenance runs the heartbeat loop until ctx is cancelled.
func (r *redisStore) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat()
		}
	}
}

// heartbeat extends the TTL of every key owned by this instance so live
// relays stay visible and dead instances age out on their own.
func (r *redisStore) heartbeat() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.relays))
	for id := range r.relays {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	ctx := context.Background()
	if err := r.client.Set(ctx, "portfwd:instance:"+r.instanceID, time.Now().UTC().Format(time.RFC3339), r.keyTTL).Err(); err != nil {
		obs.Error("redis.heartbeat.instance", obs.Fields{"err": err.Error()})
	}
	for _, id := range ids {
		if err := r.client.Expire(ctx, relayKey(id), r.keyTTL).Err(); err != nil {
			obs.Error("redis.heartbeat.expire", obs.Fields{"err": err.Error(), "id": id})
		}
	}
}
