package link

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Steven-Chan/chat/internal/record"
)

// Backfill modes reported in Report.Mode.
const (
	ModeWindowed = "windowed"
	ModeStreamed = "streamed"
)

// Report summarizes one backfill run.
type Report struct {
	Mode          string        `json:"mode"`
	Records       int64         `json:"records"`
	Conversations int64         `json:"conversations"`
	Changed       int64         `json:"changed"`
	Duration      time.Duration `json:"duration_ns"`
}

// Backfill recomputes every link in a store.
type Backfill struct {
	settings
}

// NewBackfill creates a backfill processor.
func NewBackfill(opts ...Option) *Backfill {
	return &Backfill{settings: newSettings(opts)}
}

// RepairAllLinks recomputes previous for every record so the chain invariant
// holds for everything committed before the bulk scope began.
//
// The run is all-or-nothing: on any error the store's bulk scope is rolled
// back and the caller should rerun it in full. Re-running after success is
// a no-op (Report.Changed == 0).
func (b *Backfill) RepairAllLinks(ctx context.Context, store BulkStore) (Report, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Backfill.RepairAllLinks")
	defer span.End()

	b.logger.Info("backfill starting")

	var report Report
	err := store.Bulk(ctx, func(tx BulkTx) error {
		report = Report{}
		records, conversations, err := tx.Stats(ctx)
		if err != nil {
			return classify("count records", err)
		}
		report.Records = records
		report.Conversations = conversations

		switch t := tx.(type) {
		case WindowedRelinker:
			report.Mode = ModeWindowed
			report.Changed, err = relinkWindowed(ctx, t)
		case OrderedScanner:
			report.Mode = ModeStreamed
			report.Changed, err = relinkStreamed(ctx, t)
		default:
			err = fmt.Errorf("backfill: bulk scope %T supports neither windowed nor streamed relinking", tx)
		}
		return err
	})
	report.Duration = time.Since(start)

	b.metrics.BackfillFinished(err, report.Records, report.Changed, report.Duration)
	span.SetAttributes(
		attribute.String("chatlink.backfill.mode", report.Mode),
		attribute.Int64("chatlink.backfill.records", report.Records),
		attribute.Int64("chatlink.backfill.changed", report.Changed),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("backfill failed", "error", err, "duration", report.Duration)
		return Report{Duration: report.Duration}, err
	}

	b.logger.Info("backfill complete",
		"mode", report.Mode,
		"records", report.Records,
		"conversations", report.Conversations,
		"changed", report.Changed,
		"duration", report.Duration,
	)
	return report, nil
}

func relinkWindowed(ctx context.Context, tx WindowedRelinker) (int64, error) {
	dups, err := tx.DuplicateSequences(ctx)
	if err != nil {
		return 0, classify("find duplicate sequences", err)
	}
	if len(dups) > 0 {
		d := dups[0]
		v := Violation(d.Conversation, d.Seq, fmt.Sprintf("sequence held by %d records", d.Count))
		if len(dups) > 1 {
			v.Message = fmt.Sprintf("%s (and %d more duplicate sequences)", v.Message, len(dups)-1)
		}
		return 0, v
	}

	changed, err := tx.RelinkWindowed(ctx)
	if err != nil {
		return 0, classify("windowed relink", err)
	}
	return changed, nil
}

func relinkStreamed(ctx context.Context, tx OrderedScanner) (int64, error) {
	var (
		z       Zipper
		changed int64
	)
	err := tx.ScanOrdered(ctx, func(l record.Link) error {
		want, err := z.Next(l)
		if err != nil {
			return err
		}
		if want == l.Previous {
			return nil
		}
		if err := tx.SetPrevious(ctx, l.ID, want); err != nil {
			return classify("stage link", err)
		}
		changed++
		return nil
	})
	if err != nil {
		return 0, classify("streamed relink", err)
	}
	return changed, nil
}
