package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/hms/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// RedisOpt converts the Redis section of the config into asynq connection options
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Client enqueues billing tasks
type Client struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewClient creates a new Client
func NewClient(opt asynq.RedisConnOpt, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: asynq.NewClient(opt), logger: logger}
}

// EnqueueConsultation queues a booked consultation for ingestion
func (c *Client) EnqueueConsultation(ctx context.Context, e *clinical.ConsultationBooked) error {
	task, err := NewConsultationTask(e)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// EnqueueLabItem queues an ordered lab item for ingestion
func (c *Client) EnqueueLabItem(ctx context.Context, e *clinical.LabTestOrdered) error {
	task, err := NewLabItemTask(e)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// EnqueuePrescriptionItem queues a prescription line for ingestion
func (c *Client) EnqueuePrescriptionItem(ctx context.Context, e *clinical.PrescriptionItemWritten) error {
	task, err := NewPrescriptionItemTask(e)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// ScheduleSync queues a gateway sync for the payment after delay. At most
// one sync per payment is queued at a time.
func (c *Client) ScheduleSync(ctx context.Context, paymentID uuid.UUID, delay time.Duration) error {
	task, err := NewPaymentSyncTask(paymentID)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, asynq.ProcessIn(delay))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Debug("task already queued", zap.String("type", task.Type()))
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Debug("task enqueued",
		zap.String("type", task.Type()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Time("process_at", info.NextProcessAt))
	return nil
}

// Close releases the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

var _ billingapp.SyncScheduler = (*Client)(nil)
