package checklist

import (
	"errors"
	"testing"
)

func mustLoadCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := LoadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return catalog
}

func TestLoadCatalogContainsBothFamilies(t *testing.T) {
	catalog := mustLoadCatalog(t)
	testCases := []struct {
		categoryID string
		family     string
		steps      int
	}{
		{categoryID: "upi-fraud", family: "bank-fraud", steps: 8},
		{categoryID: "card-fraud", family: "bank-fraud", steps: 7},
		{categoryID: "phishing", family: "bank-fraud", steps: 6},
		{categoryID: "sim-swap", family: "bank-fraud", steps: 8},
		{categoryID: "qr-scam", family: "bank-fraud", steps: 5},
		{categoryID: "non-delivery", family: "ecommerce", steps: 7},
		{categoryID: "refund-not-received", family: "ecommerce", steps: 6},
	}
	for _, testCase := range testCases {
		t.Run(testCase.categoryID, func(t *testing.T) {
			category, err := catalog.Category(testCase.categoryID)
			if err != nil {
				t.Fatalf("category: %v", err)
			}
			if len(category.Steps) != testCase.steps {
				t.Fatalf("expected %d steps, got %d", testCase.steps, len(category.Steps))
			}
			if catalog.FamilyOf(testCase.categoryID) != testCase.family {
				t.Fatalf("expected family %q, got %q", testCase.family, catalog.FamilyOf(testCase.categoryID))
			}
		})
	}
	if _, err := catalog.Category("lottery"); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestParseCatalogRejectsDuplicateSteps(t *testing.T) {
	raw := []byte(`{"families":[{"id":"f","categories":[{"id":"c","steps":[{"step_number":1},{"step_number":1}]}]}]}`)
	if _, err := ParseCatalog(raw); err == nil {
		t.Fatalf("expected duplicate step error")
	}
}

func TestProgressCompleteIsIdempotentAndPercentRounds(t *testing.T) {
	catalog := mustLoadCatalog(t)
	progress := NewProgress(catalog)
	for _, stepNumber := range []int{1, 2, 2} {
		if err := progress.Complete("qr-scam", stepNumber); err != nil {
			t.Fatalf("complete %d: %v", stepNumber, err)
		}
	}
	if got := progress.Completed("qr-scam"); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected completed set %v", got)
	}
	if percent := progress.Percent("qr-scam"); percent != 40 {
		t.Fatalf("expected 40 percent, got %d", percent)
	}
	if err := progress.Complete("phishing", 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 1 of 6 is 16.67 percent.
	if percent := progress.Percent("phishing"); percent != 17 {
		t.Fatalf("expected 17 percent, got %d", percent)
	}
	if err := progress.Reopen("qr-scam", 2); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if percent := progress.Percent("qr-scam"); percent != 20 {
		t.Fatalf("expected 20 percent after reopen, got %d", percent)
	}
}

func TestProgressRejectsUnknownSteps(t *testing.T) {
	progress := NewProgress(mustLoadCatalog(t))
	if err := progress.Complete("upi-fraud", 99); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
	if err := progress.Complete("nope", 1); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestRenderWithholdsTemplatesWithoutPremium(t *testing.T) {
	catalog := mustLoadCatalog(t)
	progress := NewProgress(catalog)
	if err := progress.Complete("upi-fraud", 4); err != nil {
		t.Fatalf("complete: %v", err)
	}

	testCases := []struct {
		name         string
		premium      bool
		wantTemplate string
	}{
		{name: "free", premium: false, wantTemplate: ""},
		{name: "premium", premium: true, wantTemplate: "bank-upi-complaint"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			view, err := Render(catalog, progress, "upi-fraud", testCase.premium)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			step := view.Steps[3]
			if step.StepNumber != 4 || !step.Completed || !step.HasPremiumTemplate {
				t.Fatalf("unexpected step view %+v", step)
			}
			if step.PremiumTemplate != testCase.wantTemplate {
				t.Fatalf("expected template %q, got %q", testCase.wantTemplate, step.PremiumTemplate)
			}
			if view.CompletedCount != 1 || view.ProgressPct != 13 {
				t.Fatalf("unexpected progress %d/%d", view.CompletedCount, view.ProgressPct)
			}
		})
	}
}

func TestSummariesListEveryCategory(t *testing.T) {
	catalog := mustLoadCatalog(t)
	summaries := Summaries(catalog, NewProgress(catalog))
	if len(summaries) != 10 {
		t.Fatalf("expected 10 categories, got %d", len(summaries))
	}
	if summaries[0].ID != "upi-fraud" || summaries[0].ProgressPct != 0 {
		t.Fatalf("unexpected first summary %+v", summaries[0])
	}
}
