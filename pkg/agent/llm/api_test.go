package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCollectConcatenatesInOrder(t *testing.T) {
	p := NewMockProvider("mock", MockReply{Fragments: []string{"a", "b", "c"}})
	stream, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := Collect(context.Background(), stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "abc" {
		t.Errorf("expected 'abc', got %q", text)
	}
}

func TestCollectStopsAtError(t *testing.T) {
	boom := errors.New("boom")
	p := NewMockProvider("mock", MockReply{Fragments: []string{"partial"}, Err: boom})
	stream, err := p.Generate(context.Background(), GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := Collect(context.Background(), stream)
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if text != "partial" {
		t.Errorf("expected partial text, got %q", text)
	}
}

func TestCollectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := NewMockProvider("slow", MockReply{Fragments: []string{"late"}, Delay: time.Second})
	stream, err := p.Generate(ctx, GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Collect(ctx, stream); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSingleAndFailed(t *testing.T) {
	text, err := Collect(context.Background(), Single("whole"))
	if err != nil || text != "whole" {
		t.Errorf("Single: got %q, %v", text, err)
	}

	boom := errors.New("boom")
	if _, err := Collect(context.Background(), Failed(boom)); !errors.Is(err, boom) {
		t.Errorf("Failed: expected boom, got %v", err)
	}
}

func TestMockProviderRepeatsLastReply(t *testing.T) {
	boom := errors.New("down")
	p := NewMockProvider("mock", Fail(boom), Text("ok"))

	if _, err := p.Generate(context.Background(), GenerateRequest{}); !errors.Is(err, boom) {
		t.Fatalf("first call: expected error, got %v", err)
	}
	for i := 0; i < 2; i++ {
		stream, err := p.Generate(context.Background(), GenerateRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if text, _ := Collect(context.Background(), stream); text != "ok" {
			t.Errorf("call %d: expected ok, got %q", i, text)
		}
	}
	if p.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", p.Calls())
	}
	if got := p.Requests()[2].Prompt; got != "p" {
		t.Errorf("expected recorded prompt, got %q", got)
	}
}

func TestFloat(t *testing.T) {
	if f := Float(0.5); f == nil || *f != 0.5 {
		t.Errorf("Float returned %v", f)
	}
}
