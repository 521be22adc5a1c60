// Package kafka consumes geofence departure events from the upstream
// tracking platform and feeds them into the same ingest pipeline as the
// webhook.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/ingest"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

// departureEvent is the upstream wire format. AlertTime is an ISO-8601
// string; timestamps without an offset are taken as UTC.
type departureEvent struct {
	Unit      string `json:"unit"`
	Yard      string `json:"yard"`
	AlertTime string `json:"alert_time"`
}

// Ingestor accepts a departure event.
type Ingestor interface {
	Handle(ctx context.Context, ev ingest.Event) (*ingest.Result, error)
}

type Consumer struct {
	reader       *kafka.Reader
	ingestor     Ingestor
	batchSize    int
	batchTimeout time.Duration

	mu    sync.Mutex
	batch []departureEvent
	timer *time.Timer
}

func NewConsumer(brokers []string, topic, groupID string, batchSize int, batchTimeout time.Duration, ingestor Ingestor) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{
		reader:       reader,
		ingestor:     ingestor,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		batch:        make([]departureEvent, 0, batchSize),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	slog.Info("starting departure event consumer",
		"brokers", c.reader.Config().Brokers,
		"topic", c.reader.Config().Topic,
		"group_id", c.reader.Config().GroupID,
	)
	c.timer = time.NewTimer(c.batchTimeout)
	defer c.timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(context.Background())
			return
		case <-c.timer.C:
			c.flush(ctx)
			c.timer.Reset(c.batchTimeout)
		default:
			readCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			msg, err := c.reader.FetchMessage(readCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				slog.Error("fetch message failed", "error", err)
				if ctx.Err() != nil {
					return
				}
				continue
			}

			var evt departureEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				slog.Warn("invalid departure event", "error", err, "offset", msg.Offset)
				c.reader.CommitMessages(ctx, msg)
				continue
			}

			c.mu.Lock()
			c.batch = append(c.batch, evt)
			shouldFlush := len(c.batch) >= c.batchSize
			c.mu.Unlock()

			if shouldFlush {
				c.flush(ctx)
				c.timer.Reset(c.batchTimeout)
			}

			c.reader.CommitMessages(ctx, msg)
		}
	}
}

// flush pushes the buffered events through the ingest pipeline one by one.
// Ingest failures are logged and skipped: the movement check for a dropped
// event cannot be recovered later anyway, the next departure re-triggers.
func (c *Consumer) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return
	}
	toFlush := c.batch
	c.batch = make([]departureEvent, 0, c.batchSize)
	c.mu.Unlock()

	for _, evt := range toFlush {
		ev := ingest.Event{Unit: evt.Unit, Yard: evt.Yard}
		if evt.AlertTime != "" {
			t, err := timeutil.ParseUTC(evt.AlertTime)
			if err != nil {
				slog.Warn("unparseable alert time, using now", "unit", evt.Unit, "value", evt.AlertTime)
			} else {
				ev.AlertTime = t
			}
		}
		if _, err := c.ingestor.Handle(ctx, ev); err != nil {
			slog.Error("ingest departure event failed", "unit", evt.Unit, "yard", evt.Yard, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
