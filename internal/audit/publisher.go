package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/messagebus"
	"example.com/depot/services/bagtrack/internal/metrics"
	"example.com/depot/services/bagtrack/internal/model"
	"example.com/depot/services/bagtrack/internal/repository"
	"example.com/depot/services/bagtrack/internal/search"
)

// Publisher drains unpublished mutation-history records to the audit
// collaborators: the message bus queue and, when configured, the search
// index. The core appends records transactionally and never blocks on
// publishing; delivery is at-least-once.
type Publisher struct {
	db         *gorm.DB
	messageBus messagebus.Client
	esClient   search.Client
	auditQueue string
}

// NewPublisher creates a new audit publisher. messageBus and esClient may
// be nil when the corresponding collaborator is disabled.
func NewPublisher(db *gorm.DB, messageBus messagebus.Client, esClient search.Client, auditQueue string) *Publisher {
	return &Publisher{
		db:         db,
		messageBus: messageBus,
		esClient:   esClient,
		auditQueue: auditQueue,
	}
}

// PublishPending publishes up to limit unpublished records and marks them
// published. Returns the number delivered.
func (p *Publisher) PublishPending(ctx context.Context, limit int) (int, error) {
	history := repository.NewMutationHistoryRepository(p.db)
	collector := metrics.GetMetricsCollector()

	records, err := history.FindUnpublished(ctx, limit)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, record := range records {
		if err := p.publishOne(ctx, record); err != nil {
			collector.Increment(metrics.CounterAuditPublishErrors)
			logrus.WithError(err).WithField("record", record.UUID).Error("Failed to publish mutation record")
			continue
		}

		if err := history.MarkPublished(ctx, record.UUID); err != nil {
			logrus.WithError(err).WithField("record", record.UUID).Error("Failed to mark mutation record published")
			continue
		}

		collector.Increment(metrics.CounterAuditPublished)
		published++
	}

	return published, nil
}

// publishOne delivers a single record to the configured collaborators
func (p *Publisher) publishOne(ctx context.Context, record *model.MutationRecord) error {
	if p.messageBus != nil {
		err := messagebus.RetryWithBackoff(ctx, func() error {
			return p.messageBus.PublishMessage(ctx, record, p.auditQueue)
		}, 3)
		if err != nil {
			return err
		}
	}

	if p.esClient != nil {
		// Search indexing is best effort; the queue is the system of record
		if err := p.esClient.IndexMutation(ctx, record); err != nil {
			logrus.WithError(err).WithField("record", record.UUID).Warn("Failed to index mutation record")
		}
	}

	return nil
}

// Run drains pending records on an interval until the context is done
func (p *Publisher) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx, batchSize); err != nil {
				logrus.WithError(err).Error("Audit publish pass failed")
			}
		}
	}
}

// Republish re-sends every record in a time range regardless of its
// published flag, for replay after a downstream outage.
func (p *Publisher) Republish(ctx context.Context, start, end time.Time) (int, error) {
	history := repository.NewMutationHistoryRepository(p.db)

	records, err := history.FindByTimeRange(ctx, start, end)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := p.publishOne(ctx, record); err != nil {
			logrus.WithError(err).WithField("record", record.UUID).Error("Failed to republish mutation record")
			continue
		}
		sent++
	}

	return sent, nil
}
