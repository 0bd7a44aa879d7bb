package distribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"iptoasn/internal/asn"
	"iptoasn/internal/domain"
	"iptoasn/internal/snapshot"
)

type stubInstaller struct {
	current   *asn.Snapshot
	installed int
}

func (s *stubInstaller) Current() *asn.Snapshot { return s.current }

func (s *stubInstaller) InstallBytes([]byte, string) (snapshot.ReloadResult, error) {
	s.installed++
	return snapshot.ReloadResult{}, errors.New("unexpected install")
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestShouldPublish(t *testing.T) {
	tests := []struct {
		name   string
		report snapshot.LoadReport
		want   bool
	}{
		{"network install", snapshot.LoadReport{Outcome: domain.LoadOutcomeInstalled, Network: true, Data: []byte{1}}, true},
		{"peer install", snapshot.LoadReport{Outcome: domain.LoadOutcomeInstalled, Data: []byte{1}}, false},
		{"unchanged", snapshot.LoadReport{Outcome: domain.LoadOutcomeUnchanged, Network: true}, false},
		{"failed", snapshot.LoadReport{Outcome: domain.LoadOutcomeFailed, Network: true}, false},
		{"no payload", snapshot.LoadReport{Outcome: domain.LoadOutcomeInstalled, Network: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldPublish(tt.report); got != tt.want {
				t.Fatalf("shouldPublish returned %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeNotification(t *testing.T) {
	note, err := decodeNotification(`{"digest":"00000000000000ab","origin":"https://iptoasn.com/data/ip2asn-combined.tsv.gz"}`)
	if err != nil {
		t.Fatalf("decodeNotification returned error: %v", err)
	}
	if note.Digest != "00000000000000ab" || note.Origin == "" {
		t.Fatalf("decodeNotification returned %+v", note)
	}

	if _, err := decodeNotification("not json"); err == nil {
		t.Fatalf("decodeNotification accepted garbage")
	}
}

func TestApplySkipsCurrentDigest(t *testing.T) {
	snap := asn.Build(nil, "test")
	installer := &stubInstaller{current: snap}

	d := New(unreachableClient(t), installer)
	ok, err := d.apply(context.Background(), Notification{Digest: snap.DigestHex()})
	if err != nil || !ok {
		t.Fatalf("apply returned (%v, %v), want (true, nil)", ok, err)
	}
	if installer.installed != 0 {
		t.Fatalf("apply installed a dataset the instance already serves")
	}
}

func TestApplyReportsRedisErrors(t *testing.T) {
	installer := &stubInstaller{}

	d := New(unreachableClient(t), installer)
	if _, err := d.apply(context.Background(), Notification{Digest: "ffffffffffffffff"}); err == nil {
		t.Fatalf("apply returned nil error with redis unreachable")
	}
	if installer.installed != 0 {
		t.Fatalf("apply installed without data")
	}
}

func TestPublishRejectsEmptyData(t *testing.T) {
	d := New(nil, &stubInstaller{})
	if err := d.Publish(context.Background(), nil, "", ""); err == nil {
		t.Fatalf("Publish accepted an empty dataset")
	}
}

func TestPeerOrigin(t *testing.T) {
	if got := peerOrigin(""); got != "redis:iptoasn:dataset:blob" {
		t.Fatalf("peerOrigin returned %q", got)
	}
	if got := peerOrigin("https://x"); got != "redis:iptoasn:dataset:blob (https://x)" {
		t.Fatalf("peerOrigin returned %q", got)
	}
}
