package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rtve/internal/broker"
	"github.com/aristath/rtve/internal/intake"
	"github.com/aristath/rtve/internal/metrics"
)

// ingestLoop runs the per-topic fetch -> process -> commit cycle for one
// topic. It fetches a batch, routes every record through the
// intake.Processor (isolating per-record failures to the DLQ), commits
// the whole batch once every record has been routed, and reports the
// group's lag to the metrics registry. While the processor reports the
// valuation queue is over its high-water mark, the loop backs off
// instead of fetching, and holds a routed batch's commit until the
// queue is back under the mark.
func ingestLoop(ctx context.Context, consumer *broker.Consumer, topic string, processor *intake.Processor, reg *metrics.Registry, log zerolog.Logger) {
	const batchSize = 200
	deferDelay := 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if processor.ShouldDefer() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(deferDelay):
			}
			continue
		}

		records, err := consumer.FetchBatch(ctx, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("fetch batch failed")
			continue
		}
		if len(records) == 0 {
			continue
		}

		for _, rec := range records {
			_ = processor.ProcessRecord(ctx, topic, rec.Key, rec.Value)
		}

		for processor.ShouldDefer() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(deferDelay):
			}
		}

		if err := consumer.Commit(ctx, records); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("commit failed")
		}

		reg.RecordLag(consumer.Lag())
	}
}
