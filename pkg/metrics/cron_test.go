package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("stale-holds", 250*time.Millisecond, nil)
	m.ObserveRun("stale-holds", time.Millisecond, errors.New("boom"))
	m.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "custody_cron_job_runs_total", "outcome", "failure"); err != nil || got != 1 {
		t.Fatalf("expected one failure, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "custody_cron_job_runs_total", "outcome", "success"); err != nil || got != 1 {
		t.Fatalf("expected one success, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "custody_cron_job_duration_seconds", "job", "stale-holds"); err != nil || got <= 0.25 {
		t.Fatalf("expected duration sum > 0.25, got %f err=%v", got, err)
	}
	skipped := findMetricFamily(mfs, "custody_cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one skipped cycle")
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCustodyMetricsExportCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := NewLedgerMetrics(reg)
	ingest := NewIngestMetrics(reg)
	policy := NewPolicyMetrics(reg)

	ledger.Observe("debit", OutcomeRejected)
	ledger.Observe("debit", OutcomeRejected)
	ledger.ObserveLockWait("debit", 3*time.Millisecond)
	ingest.Observe("billing", "processed", true)
	policy.Observe("deny")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "custody_ledger_operations_total", "outcome", OutcomeRejected); err != nil {
		t.Fatalf("fetch ledger ops: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 rejected debits, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "custody_webhook_results_total", "provider", "billing"); err != nil || got != 1 {
		t.Fatalf("expected one billing result, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "custody_policy_decisions_total", "decision", "deny"); err != nil || got != 1 {
		t.Fatalf("expected one deny decision, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "custody_ledger_lock_wait_seconds", "operation", "debit"); err != nil || got <= 0 {
		t.Fatalf("expected lock wait sum > 0, got %f err=%v", got, err)
	}
}

func TestNilRegistererYieldsNoopMetrics(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.Observe("credit", OutcomeOK)
	NewLedgerMetrics(nil).Observe("credit", OutcomeOK)
	NewIngestMetrics(nil).Observe("p", "r", false)
	NewPolicyMetrics(nil).Observe("allow")
	NewCronJobMetrics(nil).ObserveRun("job", time.Second, nil)
	var cron *CronJobMetrics
	cron.IncSkipped()
}
