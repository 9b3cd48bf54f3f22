package shape

import (
	"errors"
	"testing"

	"github.com/torosent/stagefire/internal/strategy"
)

func TestTickPastPlanEndFinishesWithError(t *testing.T) {
	plan, err := strategy.Parse("2_2_1_5", strategy.ModeBare)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c := New(plan, Options{})
	c.Start()

	// Corrupt the pointer the way a missed terminal transition would.
	c.mu.Lock()
	c.pointer = plan.Len()
	c.mu.Unlock()

	if _, ok := c.Tick(); ok {
		t.Fatalf("Tick() past the plan end should be terminal")
	}
	if !errors.Is(c.Err(), ErrExhaustedPlan) {
		t.Fatalf("Err() = %v, want ErrExhaustedPlan", c.Err())
	}
	if c.End().IsZero() {
		t.Fatalf("End() not set")
	}
}
