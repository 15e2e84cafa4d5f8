package checklist

// StepView is a step as rendered for one visitor.
type StepView struct {
	Step
	Completed          bool `json:"completed"`
	HasPremiumTemplate bool `json:"has_premium_template"`
}

// CategoryView is a category with the visitor's progress applied.
type CategoryView struct {
	ID             string     `json:"id"`
	Family         string     `json:"family"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Timeframe      string     `json:"timeframe"`
	Steps          []StepView `json:"steps"`
	CompletedCount int        `json:"completed_count"`
	ProgressPct    int        `json:"progress_percent"`
}

// CategorySummary is the index entry for a category.
type CategorySummary struct {
	ID          string `json:"id"`
	Family      string `json:"family"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timeframe   string `json:"timeframe"`
	StepCount   int    `json:"step_count"`
	ProgressPct int    `json:"progress_percent"`
}

// Summaries lists every category with the visitor's progress.
func Summaries(catalog *Catalog, progress *Progress) []CategorySummary {
	summaries := make([]CategorySummary, 0)
	for _, family := range catalog.Families() {
		for _, category := range family.Categories {
			summaries = append(summaries, CategorySummary{
				ID:          category.ID,
				Family:      family.ID,
				Title:       category.Title,
				Description: category.Description,
				Timeframe:   category.Timeframe,
				StepCount:   len(category.Steps),
				ProgressPct: progress.Percent(category.ID),
			})
		}
	}
	return summaries
}

// Render applies progress and entitlement to a category. Template identifiers are withheld unless premium is true.
func Render(catalog *Catalog, progress *Progress, categoryID string, premium bool) (CategoryView, error) {
	category, err := catalog.Category(categoryID)
	if err != nil {
		return CategoryView{}, err
	}
	view := CategoryView{
		ID:          category.ID,
		Family:      catalog.FamilyOf(category.ID),
		Title:       category.Title,
		Description: category.Description,
		Timeframe:   category.Timeframe,
		Steps:       make([]StepView, 0, len(category.Steps)),
		ProgressPct: progress.Percent(category.ID),
	}
	for _, step := range category.Steps {
		stepView := StepView{
			Step:               step,
			Completed:          progress.isCompleted(category.ID, step.StepNumber),
			HasPremiumTemplate: step.PremiumTemplate != "",
		}
		if !premium {
			stepView.PremiumTemplate = ""
		}
		if stepView.Completed {
			view.CompletedCount++
		}
		view.Steps = append(view.Steps, stepView)
	}
	return view, nil
}
