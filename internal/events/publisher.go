package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sentryscan/controller/internal/logger"
)

// Config holds NATS connection settings. An empty URL disables publishing
// entirely — the broker is an optional fan-out, never load-bearing.
type Config struct {
	URL      string
	User     string
	Password string
}

// Publisher publishes job-queue and liveness change events to NATS when
// configured. With no URL it is a harmless no-op, so callers never need to
// branch on whether a broker is present.
type Publisher struct {
	conn    *nats.Conn
	enabled bool
}

// NewPublisher connects to NATS if cfg.URL is set. Connection failure is not
// fatal — the Controller logs a warning and runs with publishing disabled,
// since Postgres remains the single source of truth regardless (spec §5).
func NewPublisher(cfg Config) (*Publisher, error) {
	log := logger.Events()

	if cfg.URL == "" {
		log.Info().Msg("NATS_URL not configured, event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("sentryscan-controller"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS error")
		}),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect to NATS, event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to NATS")
	return &Publisher{conn: conn, enabled: true}, nil
}

// IsEnabled reports whether a live broker connection backs this publisher.
func (p *Publisher) IsEnabled() bool {
	return p != nil && p.enabled
}

// Close drains and closes the NATS connection, if any.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, event interface{}) error {
	if !p.IsEnabled() {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

// PublishJobQueued announces a job entering the queue.
func (p *Publisher) PublishJobQueued(ctx context.Context, event JobQueuedEvent) error {
	return p.publish(ctx, SubjectJobQueued, event)
}

// PublishJobReclaimed announces the reclaimer requeuing an expired job.
func (p *Publisher) PublishJobReclaimed(ctx context.Context, event JobReclaimedEvent) error {
	return p.publish(ctx, SubjectJobReclaimed, event)
}

// PublishJobExpired announces a job exhausting its retry budget.
func (p *Publisher) PublishJobExpired(ctx context.Context, event JobExpiredEvent) error {
	return p.publish(ctx, SubjectJobExpired, event)
}

// PublishScanCompleted announces a scan reaching a terminal status.
func (p *Publisher) PublishScanCompleted(ctx context.Context, event ScanCompletedEvent) error {
	return p.publish(ctx, SubjectScanCompleted, event)
}

// PublishLivenessChange announces an agent liveness transition.
func (p *Publisher) PublishLivenessChange(ctx context.Context, event LivenessChangeEvent) error {
	return p.publish(ctx, SubjectLivenessChange, event)
}
