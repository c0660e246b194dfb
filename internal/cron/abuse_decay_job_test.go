package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/custody-backend/internal/abuse"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

type fakeDecayer struct {
	at      time.Time
	summary *abuse.DecaySummary
	err     error
}

func (f *fakeDecayer) DecayAll(_ context.Context, now time.Time) (*abuse.DecaySummary, error) {
	f.at = now
	return f.summary, f.err
}

func TestAbuseDecayJobRunsSweepAtCurrentTime(t *testing.T) {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	decayer := &fakeDecayer{summary: &abuse.DecaySummary{Processed: 4, Lifted: 1}}
	jobIface, err := NewAbuseDecayJob(AbuseDecayJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Abuse:  decayer,
	})
	if err != nil {
		t.Fatalf("NewAbuseDecayJob: %v", err)
	}
	job := jobIface.(*abuseDecayJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !decayer.at.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, decayer.at)
	}
	if job.Name() != "abuse-decay" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
}

func TestAbuseDecayJobReportsPartialFailure(t *testing.T) {
	decayer := &fakeDecayer{summary: &abuse.DecaySummary{Processed: 2, Failed: 1}, err: errors.New("tenant locked")}
	job, err := NewAbuseDecayJob(AbuseDecayJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Abuse:  decayer,
	})
	if err != nil {
		t.Fatalf("NewAbuseDecayJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAbuseDecayJobRequiresDependencies(t *testing.T) {
	if _, err := NewAbuseDecayJob(AbuseDecayJobParams{Abuse: &fakeDecayer{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewAbuseDecayJob(AbuseDecayJobParams{Logger: logger.New(logger.Options{ServiceName: "test"})}); err == nil {
		t.Fatal("expected abuse error")
	}
}
