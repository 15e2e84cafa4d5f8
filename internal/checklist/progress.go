package checklist

import (
	"fmt"
	"sort"
	"sync"
)

// Progress tracks completed steps per category for one browser context.
type Progress struct {
	catalog   *Catalog
	mutex     sync.RWMutex
	completed map[string]map[int]struct{}
}

// NewProgress returns an empty tracker over the catalog.
func NewProgress(catalog *Catalog) *Progress {
	return &Progress{catalog: catalog, completed: make(map[string]map[int]struct{})}
}

// Complete marks a step done. Completing an already completed step is a no-op.
func (progress *Progress) Complete(categoryID string, stepNumber int) error {
	if err := progress.validate(categoryID, stepNumber); err != nil {
		return err
	}
	progress.mutex.Lock()
	defer progress.mutex.Unlock()
	steps, ok := progress.completed[categoryID]
	if !ok {
		steps = make(map[int]struct{})
		progress.completed[categoryID] = steps
	}
	steps[stepNumber] = struct{}{}
	return nil
}

// Reopen clears a completed step.
func (progress *Progress) Reopen(categoryID string, stepNumber int) error {
	if err := progress.validate(categoryID, stepNumber); err != nil {
		return err
	}
	progress.mutex.Lock()
	defer progress.mutex.Unlock()
	delete(progress.completed[categoryID], stepNumber)
	return nil
}

// Completed returns the sorted completed step numbers of a category.
func (progress *Progress) Completed(categoryID string) []int {
	progress.mutex.RLock()
	defer progress.mutex.RUnlock()
	stepNumbers := make([]int, 0, len(progress.completed[categoryID]))
	for stepNumber := range progress.completed[categoryID] {
		stepNumbers = append(stepNumbers, stepNumber)
	}
	sort.Ints(stepNumbers)
	return stepNumbers
}

// Percent returns the share of completed steps, rounded to the nearest whole percent.
func (progress *Progress) Percent(categoryID string) int {
	category, err := progress.catalog.Category(categoryID)
	if err != nil || len(category.Steps) == 0 {
		return 0
	}
	progress.mutex.RLock()
	done := len(progress.completed[categoryID])
	progress.mutex.RUnlock()
	return (done*100 + len(category.Steps)/2) / len(category.Steps)
}

func (progress *Progress) isCompleted(categoryID string, stepNumber int) bool {
	progress.mutex.RLock()
	defer progress.mutex.RUnlock()
	_, ok := progress.completed[categoryID][stepNumber]
	return ok
}

func (progress *Progress) validate(categoryID string, stepNumber int) error {
	category, err := progress.catalog.Category(categoryID)
	if err != nil {
		return err
	}
	if !category.hasStep(stepNumber) {
		return fmt.Errorf("checklist.step.%s.%d: %w", categoryID, stepNumber, ErrStepNotFound)
	}
	return nil
}
