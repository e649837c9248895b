package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func testRecorder(t *testing.T) (*Recorder, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "audit-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewRecorder(repo), repo
}

func auditApplication() *domain.CreditApplication {
	return &domain.CreditApplication{
		ApplicationID:         "APP-SENSITIVE-42",
		Age:                   35,
		Gender:                domain.GenderFemale,
		MaritalStatus:         "MARRIED",
		Education:             domain.EducationS1,
		HousingType:           domain.HousingOwned,
		AnnualIncome:          123_456_789,
		EmploymentStatus:      domain.EmploymentPermanent,
		WorkExperienceYears:   8,
		ExistingLoansCount:    1,
		TotalExistingDebt:     5_000_000,
		CreditCardUtilization: 0.3,
		PastDelinquencies:     0,
		LoanAmount:            50_000_000,
		LoanTermMonths:        12,
	}
}

func TestRecord(t *testing.T) {
	rec, _ := testRecorder(t)
	ctx := context.Background()

	fixed := time.Date(2026, 5, 10, 14, 30, 0, 123456789, time.UTC)
	rec.now = func() time.Time { return fixed }

	reqID, err := rec.Record(ctx, "req-001", auditApplication(),
		0.73126, domain.RiskHigh, domain.DecisionReject,
		"high DSR and delinquency history", "v-test", "analyst-7")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if reqID != "req-001" {
		t.Errorf("request ID = %s, want req-001", reqID)
	}

	entries, err := rec.Query(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	t.Run("TimestampLayout", func(t *testing.T) {
		want := "2026-05-10T14:30:00.123456789Z"
		if entry.Timestamp != want {
			t.Errorf("timestamp = %s, want %s", entry.Timestamp, want)
		}
	})

	t.Run("ScoreRounded", func(t *testing.T) {
		if entry.PredictionScore != 0.7313 {
			t.Errorf("score = %v, want 0.7313", entry.PredictionScore)
		}
	})

	t.Run("NoRawIdentifier", func(t *testing.T) {
		if strings.Contains(entry.MaskedFeaturesHash, "APP-SENSITIVE-42") {
			t.Error("masked hash leaks the raw application ID")
		}
		if len(entry.MaskedFeaturesHash) != 64 {
			t.Errorf("masked hash length = %d, want 64 hex chars", len(entry.MaskedFeaturesHash))
		}
	})

	t.Run("DeterministicHash", func(t *testing.T) {
		h1, err := maskedFeaturesHash(auditApplication())
		if err != nil {
			t.Fatalf("maskedFeaturesHash failed: %v", err)
		}
		h2, _ := maskedFeaturesHash(auditApplication())
		if h1 != h2 {
			t.Error("masked hash is not deterministic")
		}
		if h1 != entry.MaskedFeaturesHash {
			t.Error("stored hash differs from recomputed hash")
		}
	})

	t.Run("BucketedMonetaryCollision", func(t *testing.T) {
		// Amounts within the same 10M bucket hash identically.
		a := auditApplication()
		a.AnnualIncome = 120_000_001
		b := auditApplication()
		b.AnnualIncome = 121_000_000

		ha, _ := maskedFeaturesHash(a)
		hb, _ := maskedFeaturesHash(b)
		if ha != hb {
			t.Error("same-bucket amounts should produce the same hash")
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		reqID, err := rec.Record(ctx, "", auditApplication(),
			0.1, domain.RiskVeryLow, domain.DecisionApprove, "ok", "v-test", "")
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if reqID == "" {
			t.Error("expected a generated request ID")
		}

		entries, _ := rec.Query(ctx, "", "", 10)
		last := entries[len(entries)-1]
		if last.UserID != "anonymous" {
			t.Errorf("user ID = %s, want anonymous", last.UserID)
		}
	})
}

func TestRecordTruncatesSummary(t *testing.T) {
	rec, _ := testRecorder(t)
	ctx := context.Background()

	long := strings.Repeat("x", 500)
	if _, err := rec.Record(ctx, "req-long", auditApplication(),
		0.5, domain.RiskMedium, domain.DecisionApprove, long, "v-test", "u"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, _ := rec.Query(ctx, "", "", 10)
	got := entries[0].ExplanationSummary
	if len(got) != maxSummaryLength+3 {
		t.Errorf("summary length = %d, want %d", len(got), maxSummaryLength+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated summary must end with ellipsis")
	}
}

func TestQueryDateRange(t *testing.T) {
	rec, _ := testRecorder(t)
	ctx := context.Background()

	days := []time.Time{
		time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC),
	}
	for i, day := range days {
		rec.now = func() time.Time { return day }
		if _, err := rec.Record(ctx, "req-"+string(rune('a'+i)), auditApplication(),
			0.4, domain.RiskMedium, domain.DecisionApprove, "s", "v-test", "u"); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	t.Run("MiddleDayOnly", func(t *testing.T) {
		entries, err := rec.Query(ctx, "2026-06-02", "2026-06-02", 100)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if entries[0].RequestID != "req-b" {
			t.Errorf("expected req-b, got %s", entries[0].RequestID)
		}
	})

	t.Run("OpenEnded", func(t *testing.T) {
		entries, err := rec.Query(ctx, "2026-06-02", "", 100)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("expected 2 entries from start date, got %d", len(entries))
		}
	})

	t.Run("ChronologicalOrder", func(t *testing.T) {
		entries, err := rec.Query(ctx, "", "", 100)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for i := 1; i < len(entries); i++ {
			if entries[i-1].Timestamp > entries[i].Timestamp {
				t.Errorf("entries out of order at %d", i)
			}
		}
	})
}

func TestExport(t *testing.T) {
	rec, _ := testRecorder(t)
	ctx := context.Background()

	t.Run("EmptyLog", func(t *testing.T) {
		var buf bytes.Buffer
		err := rec.Export(ctx, &buf)
		if !errors.Is(err, ErrNoAuditLog) {
			t.Errorf("expected ErrNoAuditLog, got: %v", err)
		}
		if buf.Len() != 0 {
			t.Error("nothing should be written for an empty log")
		}
	})

	t.Run("CSVFormat", func(t *testing.T) {
		if _, err := rec.Record(ctx, "req-csv", auditApplication(),
			0.6543, domain.RiskHigh, domain.DecisionReject, "summary", "v-test", "analyst-1"); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		var buf bytes.Buffer
		if err := rec.Export(ctx, &buf); err != nil {
			t.Fatalf("Export failed: %v", err)
		}

		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("export is not valid CSV: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected header + 1 row, got %d rows", len(rows))
		}

		header := rows[0]
		if len(header) != len(domain.AuditColumns) {
			t.Fatalf("header has %d columns, want %d", len(header), len(domain.AuditColumns))
		}
		for i, col := range domain.AuditColumns {
			if header[i] != col {
				t.Errorf("header[%d] = %s, want %s", i, header[i], col)
			}
		}

		row := rows[1]
		if row[0] != "req-csv" {
			t.Errorf("request_id = %s, want req-csv", row[0])
		}
		if row[3] != "0.6543" {
			t.Errorf("prediction_score = %s, want 0.6543", row[3])
		}
		if row[5] != "REJECT" {
			t.Errorf("decision = %s, want REJECT", row[5])
		}
	})
}
