package checklist

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Priority ranks how soon a step should be taken.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityUrgent    Priority = "urgent"
	PriorityImportant Priority = "important"
	PriorityNormal    Priority = "normal"
)

var (
	// ErrCategoryNotFound indicates the category id is not in the catalog.
	ErrCategoryNotFound = errors.New("checklist.category_not_found")
	// ErrStepNotFound indicates the step number is not part of the category.
	ErrStepNotFound = errors.New("checklist.step_not_found")
)

//go:embed catalog.json
var embeddedCatalog []byte

// Link is an external resource referenced by a step.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Step is one action in a remediation checklist.
type Step struct {
	StepNumber      int      `json:"step_number"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        Priority `json:"priority"`
	Details         []string `json:"details"`
	Links           []Link   `json:"links"`
	PremiumTemplate string   `json:"premium_template,omitempty"`
}

// Category is one kind of fraud with its ordered steps.
type Category struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timeframe   string `json:"timeframe"`
	Steps       []Step `json:"steps"`
}

// Family groups related categories.
type Family struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Categories []Category `json:"categories"`
}

// Catalog is the read-only set of checklists served to every visitor.
type Catalog struct {
	families   []Family
	categories map[string]*Category
	familyOf   map[string]string
}

type catalogDocument struct {
	Families []Family `json:"families"`
}

// LoadCatalog parses the catalog bundled with the binary.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// ParseCatalog parses a JSON catalog document and validates step numbering.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var document catalogDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("checklist.parse: %w", err)
	}
	catalog := &Catalog{
		families:   document.Families,
		categories: make(map[string]*Category),
		familyOf:   make(map[string]string),
	}
	for familyIndex := range catalog.families {
		family := &catalog.families[familyIndex]
		for categoryIndex := range family.Categories {
			category := &family.Categories[categoryIndex]
			if category.ID == "" {
				return nil, fmt.Errorf("checklist.parse: family %q has a category without id", family.ID)
			}
			if _, exists := catalog.categories[category.ID]; exists {
				return nil, fmt.Errorf("checklist.parse: duplicate category %q", category.ID)
			}
			seen := make(map[int]struct{}, len(category.Steps))
			for _, step := range category.Steps {
				if step.StepNumber <= 0 {
					return nil, fmt.Errorf("checklist.parse: category %q has step number %d", category.ID, step.StepNumber)
				}
				if _, duplicate := seen[step.StepNumber]; duplicate {
					return nil, fmt.Errorf("checklist.parse: category %q repeats step %d", category.ID, step.StepNumber)
				}
				seen[step.StepNumber] = struct{}{}
			}
			sort.SliceStable(category.Steps, func(left, right int) bool {
				return category.Steps[left].StepNumber < category.Steps[right].StepNumber
			})
			catalog.categories[category.ID] = category
			catalog.familyOf[category.ID] = family.ID
		}
	}
	return catalog, nil
}

// Families returns the catalog families in display order.
func (catalog *Catalog) Families() []Family {
	return catalog.families
}

// Category looks up a category by id.
func (catalog *Catalog) Category(categoryID string) (Category, error) {
	category, ok := catalog.categories[categoryID]
	if !ok {
		return Category{}, fmt.Errorf("checklist.category.%s: %w", categoryID, ErrCategoryNotFound)
	}
	return *category, nil
}

// FamilyOf returns the family id a category belongs to.
func (catalog *Catalog) FamilyOf(categoryID string) string {
	return catalog.familyOf[categoryID]
}

func (category Category) hasStep(stepNumber int) bool {
	for _, step := range category.Steps {
		if step.StepNumber == stepNumber {
			return true
		}
	}
	return false
}
