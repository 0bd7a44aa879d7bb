package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	InstanceHeartbeatKeyPrefix = "iptoasn:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 45 * time.Second
)

var instanceID = generateInstanceID()

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

func InstanceID() string {
	return instanceID
}

// InstanceState is what every instance advertises about the dataset it
// serves.
type InstanceState struct {
	Instance string    `json:"instance"`
	Digest   string    `json:"digest"`
	Records  int       `json:"records"`
	LoadedAt time.Time `json:"loaded_at"`
	SeenAt   time.Time `json:"seen_at"`
}

// StartInstanceHeartbeat publishes state() under the instance key until ctx
// is done. The key expires after ttl so dead instances drop out on their own.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, keyPrefix string, interval, ttl time.Duration, state func() InstanceState) {
	if ctx == nil {
		ctx = context.Background()
	}
	heartbeatKey := keyPrefix + instanceID

	sendHeartbeat := func() {
		current := state()
		current.Instance = instanceID
		current.SeenAt = time.Now().UTC()
		payload, err := json.Marshal(current)
		if err != nil {
			log.Error("Failed to encode instance heartbeat", "error", err)
			return
		}
		if err := client.SetEx(ctx, heartbeatKey, payload, ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update instance heartbeat", "key", heartbeatKey, "error", err)
		}
	}

	sendHeartbeat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendHeartbeat()
		}
	}
}

func LaunchInstanceHeartbeat(parent context.Context, client *redis.Client, state func() InstanceState) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	go StartInstanceHeartbeat(ctx, client, InstanceHeartbeatKeyPrefix, DefaultHeartbeatInterval, DefaultHeartbeatTTL, state)
	return cancel
}

// ListInstances returns the live instances sorted by id.
func ListInstances(ctx context.Context, client *redis.Client) ([]InstanceState, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var keys []string
	iter := client.Scan(ctx, 0, InstanceHeartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	instances := make([]InstanceState, 0, len(values))
	for _, raw := range values {
		payload, ok := raw.(string)
		if !ok {
			continue
		}
		var state InstanceState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			continue
		}
		instances = append(instances, state)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Instance < instances[j].Instance
	})
	return instances, nil
}
