package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const changeKey = "change"

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL     string
	Subject string
	// KVBucket, when set, also stores the latest event under key "change".
	KVBucket string
}

// NATSPublisher publishes change events on a subject.
type NATSPublisher struct {
	conn    *nats.Conn
	kv      jetstream.KeyValue
	subject string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Subject == "" {
		cfg.Subject = "streamrec.change"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("streamrec"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &NATSPublisher{conn: conn, subject: cfg.Subject}
	if cfg.KVBucket != "" {
		if err := p.initKVBucket(cfg.KVBucket); err != nil {
			conn.Close()
			return nil, err
		}
	}

	slog.Info("NATS change publisher initialized",
		"url", cfg.URL,
		"subject", cfg.Subject,
		"kv_bucket", cfg.KVBucket)
	return p, nil
}

func (p *NATSPublisher) initKVBucket(bucket string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	js, err := jetstream.New(p.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "streamrec change stamp",
			History:     1,
		})
		if err != nil {
			return fmt.Errorf("failed to create KV bucket: %w", err)
		}
	}
	p.kv = kv
	return nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if p.kv != nil {
		if _, err := p.kv.Put(ctx, changeKey, data); err != nil {
			return fmt.Errorf("failed to store change: %w", err)
		}
	}
	slog.Debug("Published change event", slog.Int64("change", ev.Change), slog.String("reason", ev.Reason))
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
