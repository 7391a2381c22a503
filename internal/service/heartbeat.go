package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/push"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultConcurrency = 64
)

// HeartbeatDispatcher wakes registered devices with content-only pushes at a
// bounded rate and prunes tokens the platform reports as dead
type HeartbeatDispatcher struct {
	registry    *PushRegistry
	clients     map[models.PushType]push.Client
	sendTimeout time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewHeartbeatDispatcher creates a dispatcher. Push types without a client
// are skipped.
func NewHeartbeatDispatcher(registry *PushRegistry, clients map[models.PushType]push.Client, sendTimeout time.Duration, concurrency int, logger *zap.Logger) *HeartbeatDispatcher {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &HeartbeatDispatcher{
		registry:    registry,
		clients:     clients,
		sendTimeout: sendTimeout,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "heartbeat")),
	}
}

// BatchResult summarizes one push type's batch
type BatchResult struct {
	PushType      models.PushType
	Registrations int
	Tokens        int
	Accepted      int
	Rejected      int
	Failed        int
	Removed       int64
}

// SendHeartbeats pushes up to batchLimit due registrations per push type.
// Cancellation is honoured between push types; a batch that started runs to
// completion, including its last-push bookkeeping.
func (d *HeartbeatDispatcher) SendHeartbeats(ctx context.Context, pushInterval time.Duration, batchLimit int) ([]*BatchResult, error) {
	var results []*BatchResult
	for _, pushType := range models.PushTypes {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		client, ok := d.clients[pushType]
		if !ok {
			d.logger.Debug("No push client for push type, skipping", zap.String("push_type", string(pushType)))
			continue
		}

		result, err := d.sendBatch(context.WithoutCancel(ctx), pushType, client, pushInterval, batchLimit)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (d *HeartbeatDispatcher) sendBatch(ctx context.Context, pushType models.PushType, client push.Client, pushInterval time.Duration, batchLimit int) (*BatchResult, error) {
	logger := d.logger.With(zap.String("push_type", string(pushType)))

	regs, err := d.registry.DueForPush(ctx, pushType, pushInterval, batchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due %s registrations: %w", pushType, err)
	}
	result := &BatchResult{PushType: pushType, Registrations: len(regs)}
	logger.Info("Retrieved due push registrations", zap.Int("count", len(regs)))
	if len(regs) == 0 {
		return result, nil
	}

	tokens := distinctTokens(regs)
	result.Tokens = len(tokens)

	// responses are collected first and inspected after every send returned
	responses := make([]*push.Response, len(tokens))
	errs := make([]error, len(tokens))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			responses[i], errs[i] = client.Send(callCtx, token)
			return nil
		})
	}
	_ = g.Wait()

	var dead []string
	for i, token := range tokens {
		switch {
		case errs[i] != nil:
			result.Failed++
			logger.Info("Push attempt failed, continuing", zap.Error(errs[i]))
		case responses[i].Accepted():
			result.Accepted++
		default:
			result.Rejected++
			if responses[i].Permanent() {
				dead = append(dead, token)
			} else {
				logger.Debug("Push rejected", zap.Int("status", responses[i].StatusCode), zap.String("reason", responses[i].Reason))
			}
		}
	}
	pushSentTotal.WithLabelValues(string(pushType), "accepted").Add(float64(result.Accepted))
	pushSentTotal.WithLabelValues(string(pushType), "rejected").Add(float64(result.Rejected))
	pushSentTotal.WithLabelValues(string(pushType), "failed").Add(float64(result.Failed))

	logger.Info("All notifications sent", zap.Int("invalid_tokens", len(dead)))
	if len(dead) > 0 {
		removed, err := d.registry.RemoveMany(ctx, dead)
		if err != nil {
			logger.Error("Failed to remove invalid push tokens", zap.Error(err))
		} else {
			result.Removed = removed
			pushTokensRemovedTotal.Add(float64(removed))
		}
	}

	if err := d.registry.MarkPushed(ctx, regs); err != nil {
		return result, fmt.Errorf("failed to record %s push attempts: %w", pushType, err)
	}
	return result, nil
}

// CheckPushSchedule logs whether the schedule can reach every registered
// device within pushInterval and returns the load factor
func (d *HeartbeatDispatcher) CheckPushSchedule(ctx context.Context, pushInterval, schedulerInterval time.Duration, batchSize int) (float64, error) {
	registrations, err := d.registry.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count push registrations: %w", err)
	}

	loadFactor := CalculatePushLoadFactor(pushInterval, schedulerInterval, batchSize, registrations)
	pushLoadFactor.Set(loadFactor)

	fields := []zap.Field{zap.Float64("load_factor", loadFactor), zap.Int64("registrations", registrations)}
	switch {
	case loadFactor >= 1.0:
		d.logger.Error("Silent pushes can no longer be delivered with this schedule. Increase batch size or frequency", fields...)
	case loadFactor >= 0.8:
		d.logger.Warn("Silent push schedule is about to overflow. Consider increasing batch size or scheduler frequency", fields...)
	default:
		d.logger.Info("Silent push schedule checked successfully", fields...)
	}
	return loadFactor, nil
}

// CalculatePushLoadFactor is the ratio of registrations to the pushes the
// schedule can issue within one push interval. 1.0 or more means overflow.
func CalculatePushLoadFactor(pushInterval, schedulerInterval time.Duration, batchSize int, registrations int64) float64 {
	if schedulerInterval <= 0 || batchSize <= 0 {
		return math.Inf(1)
	}
	capacity := float64(pushInterval) / float64(schedulerInterval) * float64(batchSize)
	if capacity == 0 {
		return math.Inf(1)
	}
	return float64(registrations) / capacity
}

func distinctTokens(regs []*models.PushRegistration) []string {
	seen := make(map[string]struct{}, len(regs))
	tokens := make([]string, 0, len(regs))
	for _, reg := range regs {
		if _, ok := seen[reg.PushToken]; ok {
			continue
		}
		seen[reg.PushToken] = struct{}{}
		tokens = append(tokens, reg.PushToken)
	}
	return tokens
}
