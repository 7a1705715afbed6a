package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/coupon"
)

// TypeCouponRedeem is the asynq task type for deferred coupon redemptions.
const TypeCouponRedeem = "coupon:redeem"

// NewCouponRedeemTask encodes r as a redemption task.
func NewCouponRedeemTask(r coupon.Redemption) (*asynq.Task, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode redemption: %w", err)
	}
	return asynq.NewTask(TypeCouponRedeem, payload), nil
}

// taskID makes replays of the same order collapse onto one task.
func taskID(r coupon.Redemption) string {
	return TypeCouponRedeem + ":" + coupon.NormalizeCode(r.Code) + ":" + r.OrderNo
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues redemptions for the worker. It satisfies coupon.Enqueuer.
type Client struct {
	C         taskEnqueuer
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// NewClient wraps an asynq client with the default queue settings.
func NewClient(c *asynq.Client) Client {
	return Client{C: c, Queue: "default", MaxRetry: 5, Retention: 24 * time.Hour}
}

// EnqueueRedemption queues r. A redemption already queued for the same order
// is not queued twice.
func (c Client) EnqueueRedemption(ctx context.Context, r coupon.Redemption) error {
	if c.C == nil {
		return errors.New("tasks: client not configured")
	}
	task, err := NewCouponRedeemTask(r)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(taskID(r))}
	if c.Queue != "" {
		opts = append(opts, asynq.Queue(c.Queue))
	}
	if c.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(c.MaxRetry))
	}
	if c.Retention > 0 {
		opts = append(opts, asynq.Retention(c.Retention))
	}
	_, err = c.C.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue redemption: %w", err)
	}
	return nil
}

// Redeemer records a coupon redemption.
type Redeemer interface {
	Redeem(ctx context.Context, r coupon.Redemption) (coupon.Receipt, error)
}

// RedeemHandler processes TypeCouponRedeem tasks.
type RedeemHandler struct {
	Svc Redeemer
	Log zerolog.Logger
}

// ProcessTask redeems the coupon in the task payload. Rejections are final
// and skip retry; infrastructure errors are retried by asynq.
func (h RedeemHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var r coupon.Redemption
	if err := json.Unmarshal(t.Payload(), &r); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	receipt, err := h.Svc.Redeem(ctx, r)
	switch {
	case err == nil:
		h.Log.Info().Str("code", receipt.Code).Str("order_no", receipt.OrderNo).Bool("duplicate", receipt.Duplicate).Msg("queued redemption recorded")
		return nil
	case coupon.IsRejection(err):
		h.Log.Warn().Err(err).Str("code", r.Code).Str("order_no", r.OrderNo).Msg("queued redemption rejected")
		return fmt.Errorf("redeem %s for %s: %w: %w", r.Code, r.OrderNo, err, asynq.SkipRetry)
	default:
		return fmt.Errorf("redeem %s for %s: %w", r.Code, r.OrderNo, err)
	}
}

// NewServeMux routes every task type handled by the worker.
func NewServeMux(redeem RedeemHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeCouponRedeem, redeem)
	return mux
}
