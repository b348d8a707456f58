package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// HandlerFunc processes one task. Returning an error leaves the entry pending
// so it is redelivered.
type HandlerFunc func(ctx context.Context, task Task) error

// DeadLetterFunc is told about tasks that will not be retried again.
type DeadLetterFunc func(ctx context.Context, task Task, reason string)

type WorkerConfig struct {
	Stream        string
	Group         string
	Consumer      string
	Concurrency   int
	BatchSize     int64
	BlockDuration time.Duration
	ClaimIdle     time.Duration
	MaxDeliveries int64
}

type Worker struct {
	client       *redis.Client
	cfg          WorkerConfig
	handlers     map[string]HandlerFunc
	onDeadLetter DeadLetterFunc
	log          *logrus.Entry
}

func NewWorker(client *redis.Client, cfg WorkerConfig, log *logrus.Entry) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Second
	}
	if cfg.ClaimIdle == 0 {
		cfg.ClaimIdle = time.Minute
	}
	if cfg.MaxDeliveries == 0 {
		cfg.MaxDeliveries = 5
	}
	return &Worker{
		client:   client,
		cfg:      cfg,
		handlers: make(map[string]HandlerFunc),
		log:      log.WithField("stream", cfg.Stream),
	}
}

// Handle registers h for tasks named name.
func (w *Worker) Handle(name string, h HandlerFunc) {
	w.handlers[name] = h
}

func (w *Worker) OnDeadLetter(fn DeadLetterFunc) {
	w.onDeadLetter = fn
}

func (w *Worker) deadLetterStream() string {
	return w.cfg.Stream + ".dead"
}

// Start creates the consumer group and runs the readers and the reclaimer
// until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"group":       w.cfg.Group,
		"consumer":    w.cfg.Consumer,
		"concurrency": w.cfg.Concurrency,
	}).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", w.cfg.Consumer, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.readLoop(ctx, consumer)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()

	wg.Wait()
	w.log.Info("worker stopped")
	return ctx.Err()
}

func (w *Worker) readLoop(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.poll(ctx, consumer); err != nil && ctx.Err() == nil {
			w.log.WithError(err).Error("error reading tasks")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ClaimIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.reclaim(ctx); err != nil && ctx.Err() == nil {
				w.log.WithError(err).Error("error reclaiming tasks")
			}
		}
	}
}

// poll reads one batch of new entries for consumer and processes them.
func (w *Worker) poll(ctx context.Context, consumer string) error {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: consumer,
		Streams:  []string{w.cfg.Stream, ">"},
		Count:    w.cfg.BatchSize,
		Block:    w.cfg.BlockDuration,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			w.process(ctx, message)
		}
	}
	return nil
}

// reclaim takes over entries that have sat unacknowledged for ClaimIdle,
// retrying them or dead-lettering those delivered MaxDeliveries times.
func (w *Worker) reclaim(ctx context.Context) error {
	pending, err := w.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: w.cfg.Stream,
		Group:  w.cfg.Group,
		Idle:   w.cfg.ClaimIdle,
		Start:  "-",
		End:    "+",
		Count:  w.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	reclaimer := w.cfg.Consumer + "-reclaim"
	messages, err := w.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   w.cfg.Stream,
		Group:    w.cfg.Group,
		Consumer: reclaimer,
		MinIdle:  w.cfg.ClaimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim pending tasks: %w", err)
	}

	for _, message := range messages {
		if deliveries[message.ID] >= w.cfg.MaxDeliveries {
			task, _ := decodeMessage(message)
			w.deadLetter(ctx, message, task, fmt.Sprintf("delivered %d times", deliveries[message.ID]))
			continue
		}
		w.process(ctx, message)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, message redis.XMessage) {
	task, err := decodeMessage(message)
	if err != nil {
		w.deadLetter(ctx, message, task, err.Error())
		return
	}

	handler, ok := w.handlers[task.Name]
	if !ok {
		w.deadLetter(ctx, message, task, "no handler for "+task.Name)
		return
	}

	entry := w.log.WithFields(logrus.Fields{"task": task.Name, "taskId": task.ID, "messageId": message.ID})
	if err := handler(ctx, task); err != nil {
		// Left pending; reclaim retries it.
		entry.WithError(err).Warn("task failed")
		return
	}

	if err := w.client.XAck(ctx, w.cfg.Stream, w.cfg.Group, message.ID).Err(); err != nil {
		entry.WithError(err).Error("failed to ack task")
		return
	}
	entry.Debug("task done")
}

func (w *Worker) deadLetter(ctx context.Context, message redis.XMessage, task Task, reason string) {
	entry := w.log.WithFields(logrus.Fields{"messageId": message.ID, "task": task.Name, "reason": reason})
	entry.Error("moving task to dead-letter stream")

	values := map[string]any{"reason": reason, "origin": message.ID}
	if raw, ok := message.Values["task"]; ok {
		values["task"] = raw
	}
	if err := w.client.XAdd(ctx, &redis.XAddArgs{Stream: w.deadLetterStream(), Values: values}).Err(); err != nil {
		entry.WithError(err).Error("failed to write dead letter")
		return
	}
	if err := w.client.XAck(ctx, w.cfg.Stream, w.cfg.Group, message.ID).Err(); err != nil {
		entry.WithError(err).Error("failed to ack dead letter")
	}
	if w.onDeadLetter != nil && task.Name != "" {
		w.onDeadLetter(ctx, task, reason)
	}
}
