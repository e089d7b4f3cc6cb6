package types

import (
	"testing"
)

func validSchedule() *Schedule {
	return &Schedule{
		ID:         "sch_test",
		ReportID:   "rpt_123",
		ReportType: "revenue_summary",
		UserID:     "usr_1",
		Frequency:  FrequencyDaily,
		Timezone:   "America/New_York",
		Format:     FormatPDF,
		Recipients: RecipientSet{To: []string{"ops@example.com"}},
		Status:     ScheduleStatusActive,
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := validSchedule().Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
}

func TestScheduleValidateRejectsBadFrequency(t *testing.T) {
	s := validSchedule()
	s.Frequency = Frequency("HOURLY")
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}

func TestScheduleValidateRejectsBadTimezone(t *testing.T) {
	s := validSchedule()
	s.Timezone = "Mars/Olympus"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestScheduleValidateRejectsBadEmail(t *testing.T) {
	s := validSchedule()
	s.Recipients = RecipientSet{To: []string{"not-an-email"}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for malformed recipient")
	}
}

func TestScheduleValidateRejectsEmptyRecipients(t *testing.T) {
	s := validSchedule()
	s.Recipients = RecipientSet{}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for empty recipient set")
	}
}

func TestConditionValidate(t *testing.T) {
	cases := []struct {
		name    string
		cond    *DistributionCondition
		wantErr bool
	}{
		{"nil means always", nil, false},
		{"always", &DistributionCondition{Type: ConditionAlways}, false},
		{"change detection", &DistributionCondition{Type: ConditionChangeDetection}, false},
		{"threshold ok", &DistributionCondition{Type: ConditionThreshold, Metric: "total_revenue", Operator: OpGreaterThan, Bound: 1000}, false},
		{"threshold missing metric", &DistributionCondition{Type: ConditionThreshold, Operator: OpGreaterThan}, true},
		{"threshold bad operator", &DistributionCondition{Type: ConditionThreshold, Metric: "m", Operator: "BETWEEN"}, true},
		{"exception ok", &DistributionCondition{Type: ConditionException, Metric: "error_rate", Min: f64(0), Max: f64(5)}, false},
		{"exception no bounds", &DistributionCondition{Type: ConditionException, Metric: "error_rate"}, true},
		{"exception inverted bounds", &DistributionCondition{Type: ConditionException, Metric: "error_rate", Min: f64(10), Max: f64(5)}, true},
		{"unknown type", &DistributionCondition{Type: ConditionType("SOMETIMES")}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cond.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDeliveryStatusTerminal(t *testing.T) {
	terminal := []DeliveryStatus{DeliveryStatusSent, DeliveryStatusPermanentlyFailed, DeliveryStatusBounced, DeliveryStatusSkipped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []DeliveryStatus{DeliveryStatusPending, DeliveryStatusFailed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestFormatContentType(t *testing.T) {
	if got := FormatExcel.ContentType(); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if got := FormatCSV.Extension(); got != "csv" {
		t.Fatalf("unexpected extension: %s", got)
	}
}

func f64(v float64) *float64 { return &v }
