package link

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Steven-Chan/chat/internal/metrics"
	"github.com/Steven-Chan/chat/internal/record"
)

// HookName is the name the linker registers its insert hook under.
const HookName = "link-previous-message"

// Linker computes a new record's previous link at insert time.
//
// Thread-safety: Linker is stateless apart from its settings and is safe
// for concurrent use.
type Linker struct {
	settings
}

// NewLinker creates a linker.
func NewLinker(opts ...Option) *Linker {
	return &Linker{settings: newSettings(opts)}
}

// Register installs the linker on r's insert path. Calling it again on the
// same store replaces the hook, so store initialization may call it
// unconditionally.
func (l *Linker) Register(r Registrar) {
	r.RegisterInsertHook(HookName, l.LinkOnInsert)
}

// LinkOnInsert sets rec.Previous from the partition state visible to view.
//
// Any previous value supplied by the caller is discarded. The record is
// rejected when its seq is already taken in the conversation. On error rec
// must not be written; the store aborts the insert.
func (l *Linker) LinkOnInsert(ctx context.Context, view Lookup, rec *record.Record) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Linker.LinkOnInsert", trace.WithAttributes(
		attribute.String("chatlink.conversation", rec.Conversation),
		attribute.Int64("chatlink.seq", rec.Seq),
	))
	defer span.End()

	err := l.link(ctx, view, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.metrics.LinkFailed(string(CodeOf(err)))
		l.logger.Warn("link on insert failed",
			"conversation", rec.Conversation,
			"seq", rec.Seq,
			"error", err,
		)
		return err
	}

	l.metrics.LinkAssigned(metrics.PathInsert, time.Since(start))
	l.logger.Debug("link assigned",
		"id", rec.ID,
		"conversation", rec.Conversation,
		"seq", rec.Seq,
		"previous", rec.Previous,
	)
	return nil
}

func (l *Linker) link(ctx context.Context, view Lookup, rec *record.Record) error {
	rec.Previous = ""
	if err := rec.Validate(); err != nil {
		v := Violation(rec.Conversation, rec.Seq, "invalid record")
		v.Err = err
		return v
	}

	taken, err := view.SequenceTaken(ctx, rec.Conversation, rec.Seq)
	if err != nil {
		return classify("check sequence", err)
	}
	if taken {
		return Violation(rec.Conversation, rec.Seq, "sequence already present in conversation")
	}

	prev, found, err := view.Preceding(ctx, rec.Conversation, rec.Seq)
	if err != nil {
		return classify("lookup preceding record", err)
	}
	if !found {
		return nil
	}
	if prev == rec.ID {
		return Violation(rec.Conversation, rec.Seq, "record id already present in conversation")
	}
	rec.Previous = prev
	return nil
}
