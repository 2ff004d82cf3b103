package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

func TestClient_NilState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should return false for nil connection")
	}
	if client.JetStream() != nil {
		t.Error("JetStream() should return nil")
	}
	if client.Conn() != nil {
		t.Error("Conn() should return nil")
	}
	if err := client.HealthCheck(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	client := &Client{}

	client.Close()
	client.Close()

	if !client.closed {
		t.Error("client should be marked as closed")
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	if _, err := NewClient("nats://invalid-host-that-does-not-exist:4222", "test"); err == nil {
		t.Error("NewClient() should return error for invalid URL")
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := &Client{}
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"create_stream", func() error {
			_, err := client.CreateStream(ctx, StreamConfig{Name: "test"})
			return err
		}},
		{"create_consumer", func() error {
			_, err := client.CreateConsumer(ctx, "stream", "consumer", "subject")
			return err
		}},
		{"consumer", func() error {
			_, err := client.Consumer(ctx, "stream", "consumer")
			return err
		}},
		{"publish", func() error {
			_, err := client.Publish(ctx, "subject", []byte("data"))
			return err
		}},
		{"setup_streams", func() error {
			return client.SetupStreams(ctx)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotConnected) {
				t.Errorf("error = %v, want ErrNotConnected", err)
			}
		})
	}
}

func TestStreamConfig_Defaults(t *testing.T) {
	sc := streamConfig(StreamConfig{Name: "s", Subjects: []string{"a.>"}})

	if sc.MaxMsgs != 100000 {
		t.Errorf("MaxMsgs = %d, want 100000", sc.MaxMsgs)
	}
	if sc.MaxBytes != 1024*1024*100 {
		t.Errorf("MaxBytes = %d, want %d", sc.MaxBytes, 1024*1024*100)
	}
	if sc.MaxAge != 7*24*time.Hour {
		t.Errorf("MaxAge = %v, want 7 days", sc.MaxAge)
	}
	if sc.Replicas != 1 {
		t.Errorf("Replicas = %d, want 1", sc.Replicas)
	}
	if sc.Retention != jetstream.LimitsPolicy {
		t.Errorf("Retention = %v, want limits", sc.Retention)
	}
}

func TestStreamConfig_Retention(t *testing.T) {
	tests := []struct {
		name string
		cfg  StreamConfig
		want jetstream.RetentionPolicy
	}{
		{"jobs", JobStreamConfig(), jetstream.WorkQueuePolicy},
		{"events", EventStreamConfig(), jetstream.LimitsPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := streamConfig(tt.cfg).Retention; got != tt.want {
				t.Errorf("Retention = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamSubjects(t *testing.T) {
	if JobStreamConfig().Name != StreamJobs {
		t.Errorf("job stream name = %s", JobStreamConfig().Name)
	}
	if EventStreamConfig().Name != StreamEvents {
		t.Errorf("event stream name = %s", EventStreamConfig().Name)
	}
	if SubjectRescore[:5] != "jobs." {
		t.Errorf("rescore subject %s is not covered by %s", SubjectRescore, SubjectJobsAll)
	}
	if SubjectVersionSaved[:9] != "testplan." {
		t.Errorf("version subject %s is not covered by %s", SubjectVersionSaved, SubjectEventsAll)
	}
}
