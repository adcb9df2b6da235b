package model

import (
	"testing"
	"time"
)

func baseCampaign() Campaign {
	return Campaign{
		ID:       1,
		Creator:  "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		GoalGwei: 10_000_000_000,
		Deadline: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Active:   true,
	}
}

func TestCampaignState(t *testing.T) {
	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*Campaign)
		now    time.Time
		want   CampaignState
	}{
		{
			name:   "open",
			mutate: func(c *Campaign) {},
			now:    before,
			want:   StateOpen,
		},
		{
			name: "goal met before deadline",
			mutate: func(c *Campaign) {
				c.RaisedGwei = c.GoalGwei
			},
			now:  before,
			want: StateGoalMet,
		},
		{
			name:   "ended after deadline",
			mutate: func(c *Campaign) {},
			now:    after,
			want:   StateEnded,
		},
		{
			name: "withdrawn",
			mutate: func(c *Campaign) {
				c.RaisedGwei = c.GoalGwei
				c.FundsWithdrawn = true
			},
			now:  after,
			want: StateWithdrawn,
		},
		{
			name: "deleted wins over everything",
			mutate: func(c *Campaign) {
				c.RaisedGwei = c.GoalGwei
				c.Active = false
			},
			now:  before,
			want: StateDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseCampaign()
			tt.mutate(&c)
			if got := c.State(tt.now); got != tt.want {
				t.Fatalf("State() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanDonate(t *testing.T) {
	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	c := baseCampaign()
	if !c.CanDonate(before, false) {
		t.Fatalf("open campaign must accept donations")
	}

	c.RaisedGwei = c.GoalGwei
	if c.CanDonate(before, false) {
		t.Fatalf("goal-met campaign must reject donations without overfunding")
	}
	if !c.CanDonate(before, true) {
		t.Fatalf("goal-met campaign must accept donations with overfunding enabled")
	}

	c = baseCampaign()
	if c.CanDonate(after, true) {
		t.Fatalf("ended campaign must reject donations regardless of policy")
	}

	c = baseCampaign()
	c.Active = false
	if c.CanDonate(before, true) {
		t.Fatalf("deleted campaign must reject donations")
	}
}

func TestCanWithdraw(t *testing.T) {
	after := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	c := baseCampaign()
	c.RaisedGwei = c.GoalGwei

	if !c.CanWithdraw(c.Creator, after) {
		t.Fatalf("creator must be able to withdraw after deadline with goal met")
	}
	if c.CanWithdraw("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", after) {
		t.Fatalf("non-creator must not withdraw")
	}
	if c.CanWithdraw(c.Creator, before) {
		t.Fatalf("withdraw before deadline must be rejected")
	}

	c.FundsWithdrawn = true
	if c.CanWithdraw(c.Creator, after) {
		t.Fatalf("second withdraw must be rejected")
	}

	c = baseCampaign()
	c.RaisedGwei = c.GoalGwei - 1
	if c.CanWithdraw(c.Creator, after) {
		t.Fatalf("withdraw without goal met must be rejected")
	}
}

func TestCategory(t *testing.T) {
	if !CategoryEducation.IsValid() {
		t.Fatalf("known category must be valid")
	}
	if Category(CategoryCount()).IsValid() {
		t.Fatalf("out-of-range category must be invalid")
	}
	if Category(-1).IsValid() {
		t.Fatalf("negative category must be invalid")
	}
	if got := CategoryHealth.String(); got != "Health" {
		t.Fatalf("String() = %q, want Health", got)
	}
	if got := Category(100).String(); got != "Unknown" {
		t.Fatalf("String() for out-of-range = %q, want Unknown", got)
	}
}
