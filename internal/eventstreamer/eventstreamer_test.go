package eventstreamer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querent-ai/querent/internal/domain"
)

func TestHandleAccumulatesStats(t *testing.T) {
	a := NewActor("pipe-1", nil, DefaultQuarantineWindow, nil)

	if err := a.Handle(context.Background(), Delta{Docs: 2, Events: 5, GraphEvents: 5, VectorEvents: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Handle(context.Background(), Delta{Docs: 1, Events: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := a.Describe()
	want := domain.IndexingStatistics{TotalDocs: 3, TotalEvents: 6, TotalGraphEvents: 5, TotalVectorEvents: 5}
	if got != want {
		t.Fatalf("unexpected stats: got %+v, want %+v", got, want)
	}
}

func TestHandleObservableStateMatchesDescribe(t *testing.T) {
	a := NewActor("pipe-2", nil, DefaultQuarantineWindow, nil)
	if err := a.Handle(context.Background(), Delta{Docs: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, ok := a.ObservableState().(domain.IndexingStatistics)
	if !ok {
		t.Fatalf("expected domain.IndexingStatistics, got %T", a.ObservableState())
	}
	if state != a.Describe() {
		t.Fatalf("ObservableState and Describe disagree: %+v vs %+v", state, a.Describe())
	}
}

func TestHandleFailsPipelineOnceQuarantineThresholdExceeded(t *testing.T) {
	window := QuarantineWindow{Threshold: 3, Window: time.Minute}
	a := NewActor("pipe-3", nil, window, nil)

	for i := 0; i < 2; i++ {
		if err := a.Handle(context.Background(), Delta{Quarantine: 1}); err != nil {
			t.Fatalf("unexpected error before threshold: %v", err)
		}
	}
	err := a.Handle(context.Background(), Delta{Quarantine: 1})
	if !errors.Is(err, ErrQuarantineThresholdExceeded) {
		t.Fatalf("expected ErrQuarantineThresholdExceeded, got %v", err)
	}
}

func TestHandlePrunesQuarantineOutsideWindow(t *testing.T) {
	window := QuarantineWindow{Threshold: 2, Window: time.Millisecond}
	a := NewActor("pipe-4", nil, window, nil)

	if err := a.Handle(context.Background(), Delta{Quarantine: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := a.Handle(context.Background(), Delta{Quarantine: 1}); err != nil {
		t.Fatalf("expected the first quarantine to have aged out of the window: %v", err)
	}
}

func TestNewActorAppliesDefaultWindow(t *testing.T) {
	a := NewActor("pipe-5", nil, QuarantineWindow{}, nil)
	if a.window != DefaultQuarantineWindow {
		t.Fatalf("expected default window, got %+v", a.window)
	}
}
