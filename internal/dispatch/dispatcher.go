package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task names
const (
	TaskCreateTransaction   = "create_transaction"
	TaskProcessRiskCheck    = "process_risk_check"
	TaskProcessAtmOperation = "process_atm_operation"
	TaskAssignAtm           = "assign_atm"
)

// Task is the envelope stored in the "task" field of a stream entry.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t.Name, err)
	}
	return nil
}

// TransactionPayload targets an existing transaction.
type TransactionPayload struct {
	TransactionID string `json:"transactionId"`
}

// Enqueuer is what request handlers and orchestrator steps depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

type Dispatcher struct {
	client *redis.Client
	stream string
}

func NewDispatcher(client *redis.Client, stream string) *Dispatcher {
	return &Dispatcher{client: client, stream: stream}
}

// Enqueue appends a task and returns once Redis has accepted it.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{"task": taskJSON},
	}
	if err := d.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", name, err)
	}
	return nil
}

func decodeMessage(message redis.XMessage) (Task, error) {
	var task Task
	raw, ok := message.Values["task"].(string)
	if !ok {
		return task, fmt.Errorf("invalid message format")
	}
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return task, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return task, nil
}
