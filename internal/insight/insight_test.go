package insight

import (
	"context"
	"errors"
	"testing"

	"github.com/querent-ai/querent/internal/domain"
)

type echoInsight struct{ calls int }

func (e *echoInsight) Metadata() Metadata {
	return Metadata{ID: "echo", Name: "Echo", Conversational: true}
}

func (e *echoInsight) Prompt(_ context.Context, _ *domain.InsightSession, input string) (string, error) {
	e.calls++
	return "echo: " + input, nil
}

type failingInsight struct{}

func (failingInsight) Metadata() Metadata { return Metadata{ID: "fails", Name: "Fails"} }

func (failingInsight) Prompt(context.Context, *domain.InsightSession, string) (string, error) {
	return "", errors.New("backend unavailable")
}

func TestCreateSessionRejectsUnknownInsight(t *testing.T) {
	svc := NewService(NewRegistry(), nil)
	_, err := svc.CreateSession("nonexistent", "", "", nil)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPromptAppendsHistory(t *testing.T) {
	reg := NewRegistry()
	echo := &echoInsight{}
	reg.Register(echo)
	svc := NewService(reg, nil)

	id, err := svc.CreateSession("echo", "", "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	reply, err := svc.Prompt(context.Background(), id, "hello")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if reply != "echo: hello" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	sessions := svc.ListSessions()
	if len(sessions) != 1 || len(sessions[0].History) != 1 {
		t.Fatalf("expected one recorded turn, got %+v", sessions)
	}
	if sessions[0].History[0].Query != "hello" || sessions[0].History[0].Response != "echo: hello" {
		t.Fatalf("unexpected history entry: %+v", sessions[0].History[0])
	}
}

func TestPromptWrapsInsightFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(failingInsight{})
	svc := NewService(reg, nil)

	id, _ := svc.CreateSession("fails", "", "", nil)
	_, err := svc.Prompt(context.Background(), id, "hi")

	var insErr *domain.InsightError
	if !errors.As(err, &insErr) {
		t.Fatalf("expected *domain.InsightError, got %v", err)
	}
}

func TestPromptRejectsStoppedSession(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoInsight{})
	svc := NewService(reg, nil)

	id, _ := svc.CreateSession("echo", "", "", nil)
	if err := svc.StopSession(id); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	_, err := svc.Prompt(context.Background(), id, "hello")
	if !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestStopSessionRejectsUnknownSession(t *testing.T) {
	svc := NewService(NewRegistry(), nil)
	err := svc.StopSession("nonexistent")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryListReturnsEveryInsight(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoInsight{})
	reg.Register(failingInsight{})

	metas := reg.List()
	if len(metas) != 2 {
		t.Fatalf("expected 2 registered insights, got %d", len(metas))
	}
}
