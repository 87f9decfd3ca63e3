package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Steven-Chan/chat/internal/backend"
	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// Harness executes scenario steps against one store.
type Harness struct {
	store    backend.Store
	backfill *link.Backfill
	logger   *slog.Logger
	nextID   int
}

// Run executes a scenario on its own backend, or SQLite when it names none.
func Run(scenario *Scenario) (*Result, error) {
	name := scenario.Backend
	if name == "" {
		name = backend.SQLite
	}
	return RunOn(scenario, name)
}

// RunOn executes a scenario against a fresh in-memory store of the named
// backend and returns the result.
//
// Execution flow:
// 1. Open the store and register the linker
// 2. Execute steps, recording a trace event per step
// 3. Read the final chain and compute its digest
// 4. Check expectations and assertions
//
// An error is returned only when the harness itself cannot run; step and
// expectation failures are reported in Result.Errors.
func RunOn(scenario *Scenario, backendName string) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	st, err := backend.OpenLinked(backend.Options{
		Backend: backendName,
		Path:    ":memory:",
		Logger:  logger,
	}, link.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		backfill: link.NewBackfill(link.WithLogger(logger)),
		logger:   logger,
	}

	ctx := context.Background()
	result := NewResult(backendName)

	for i, step := range scenario.Steps {
		event := h.execute(ctx, i, step)
		result.Trace = append(result.Trace, event)

		if event.Error != step.ExpectError {
			want := step.ExpectError
			if want == "" {
				want = "success"
			}
			got := event.Error
			if got == "" {
				got = "success"
			}
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, step.Op(), want, got))
		}
	}

	records, err := st.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final chain: %w", err)
	}
	result.Chain = record.RecordLinks(records)
	record.SortLinks(result.Chain)
	result.Digest, err = record.ChainDigest(result.Chain)
	if err != nil {
		return nil, err
	}

	for _, msg := range checkExpectations(records, scenario.Expect) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(records, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) execute(ctx context.Context, index int, step Step) TraceEvent {
	event := TraceEvent{Step: index, Op: step.Op()}

	switch event.Op {
	case OpImport:
		recs := make([]record.Record, len(step.Import))
		for i, r := range step.Import {
			recs[i] = h.withID(r)
		}
		n, err := h.store.Import(ctx, recs)
		event.Count = n
		event.Error = errorCode(err)

	case OpInsert:
		rec := h.withID(*step.Insert)
		event.ID = rec.ID
		event.Conversation = rec.Conversation
		got, err := h.store.Insert(ctx, rec)
		if err == nil {
			event.Seq = got.Seq
			event.Previous = got.Previous
		} else {
			event.Seq = rec.Seq
		}
		event.Error = errorCode(err)

	case OpBackfill:
		report, err := h.backfill.RepairAllLinks(ctx, h.store)
		event.Changed = report.Changed
		event.Error = errorCode(err)
	}

	if event.Error != "" {
		h.logger.Debug("step failed", "step", index, "op", event.Op, "code", event.Error)
	}
	return event
}

// withID assigns a deterministic ID when the record has none.
func (h *Harness) withID(r record.Record) record.Record {
	if r.ID == "" {
		h.nextID++
		r.ID = fmt.Sprintf("msg-%04d", h.nextID)
	}
	return r
}

// errorCode reduces err to its link error code. Unclassified errors are
// reported as STORE_UNAVAILABLE.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := link.CodeOf(err); code != "" {
		return string(code)
	}
	return string(link.CodeStoreUnavailable)
}
