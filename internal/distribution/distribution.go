// Package distribution shares downloaded datasets between instances through
// Redis so that only the refresh leader talks to the upstream server.
package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"iptoasn/internal/asn"
	"iptoasn/internal/domain"
	"iptoasn/internal/snapshot"
)

const (
	datasetBlobKey       = "iptoasn:dataset:blob"
	datasetUpdateChannel = "iptoasn:dataset:updates"
	redisOpTimeout       = 30 * time.Second
)

// Notification is published after the blob has been replaced.
type Notification struct {
	Digest    string `json:"digest"`
	Origin    string `json:"origin"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Installer is the part of the snapshot controller that receives datasets
// from peers.
type Installer interface {
	Current() *asn.Snapshot
	InstallBytes(data []byte, origin string) (snapshot.ReloadResult, error)
}

type Distributor struct {
	client    *redis.Client
	installer Installer
}

func New(client *redis.Client, installer Installer) *Distributor {
	return &Distributor{client: client, installer: installer}
}

// Publish stores data as the shared blob and notifies every subscriber.
func (d *Distributor) Publish(ctx context.Context, data []byte, digest, origin string) error {
	if len(data) == 0 {
		return errors.New("distribution: refusing to publish an empty dataset")
	}

	payload, err := json.Marshal(Notification{
		Digest:    digest,
		Origin:    origin,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("distribution: serialize notification: %w", err)
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	if err := d.client.Set(opCtx, datasetBlobKey, data, 0).Err(); err != nil {
		return fmt.Errorf("distribution: store dataset: %w", err)
	}
	if err := d.client.Publish(opCtx, datasetUpdateChannel, payload).Err(); err != nil {
		return fmt.Errorf("distribution: publish notification: %w", err)
	}

	log.Info("Published dataset to peers", "digest", digest, "bytes", len(data))
	return nil
}

// Observer publishes every freshly downloaded dataset that was installed.
// Unchanged, failed and peer-sourced loads are not republished.
func (d *Distributor) Observer() snapshot.Observer {
	return func(report snapshot.LoadReport) {
		if !shouldPublish(report) {
			return
		}
		if err := d.Publish(context.Background(), report.Data, report.Digest, report.Origin); err != nil {
			log.Warn("Failed to publish dataset to redis", "error", err)
		}
	}
}

func shouldPublish(report snapshot.LoadReport) bool {
	return report.Outcome == domain.LoadOutcomeInstalled && report.Network && len(report.Data) > 0
}

// SyncFromRedis installs the shared blob if there is one. It reports whether
// a blob was found and is now being served.
func (d *Distributor) SyncFromRedis(ctx context.Context) (bool, error) {
	return d.apply(ctx, Notification{})
}

// Start subscribes to dataset notifications until ctx is done.
func (d *Distributor) Start(ctx context.Context) {
	pubsub := d.client.Subscribe(ctx, datasetUpdateChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("dataset redis sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		note, err := decodeNotification(msg.Payload)
		if err != nil {
			log.Error("dataset redis sync: invalid payload", "error", err)
			continue
		}

		if _, err := d.apply(ctx, note); err != nil {
			log.Error("dataset redis sync: failed to apply update", "digest", note.Digest, "error", err)
		}
	}
}

func (d *Distributor) apply(ctx context.Context, note Notification) (bool, error) {
	if note.Digest != "" && !d.needsUpdate(note.Digest) {
		log.Debug("dataset redis sync: already serving digest", "digest", note.Digest)
		return true, nil
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	data, err := d.client.Get(opCtx, datasetBlobKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("distribution: fetch dataset: %w", err)
	}

	result, err := d.installer.InstallBytes(data, peerOrigin(note.Origin))
	if err != nil {
		return false, err
	}
	if result.Installed {
		log.Info("dataset redis sync: installed dataset from peer", "digest", result.Snapshot.DigestHex(), "records", result.Snapshot.Len())
	}
	return true, nil
}

func (d *Distributor) needsUpdate(digest string) bool {
	current := d.installer.Current()
	return current == nil || current.DigestHex() != digest
}

func decodeNotification(payload string) (Notification, error) {
	var note Notification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		return Notification{}, err
	}
	return note, nil
}

func peerOrigin(upstream string) string {
	if upstream == "" {
		return "redis:" + datasetBlobKey
	}
	return "redis:" + datasetBlobKey + " (" + upstream + ")"
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline && time.Until(deadline) <= redisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
