package coder

import "testing"

func TestCalculateXP(t *testing.T) {
	cases := []struct {
		level, rating int
		want          int64
	}{
		{1, 0, 0},
		{1, 1, 20},
		{1, 5, 100},
		{3, 5, 900},
		{6, 5, 24300},
		{6, 0, 0},
		{9, 9, 24300},
		{-1, -3, 0},
	}
	for _, tc := range cases {
		if got := CalculateXP(tc.level, tc.rating); got != tc.want {
			t.Errorf("CalculateXP(%d, %d) = %d, want %d", tc.level, tc.rating, got, tc.want)
		}
	}
}

func TestXPTableMonotonic(t *testing.T) {
	for l := MinLevel; l <= MaxLevel; l++ {
		for r := 1; r <= MaxRating; r++ {
			if CalculateXP(l, r) <= CalculateXP(l, r-1) {
				t.Fatalf("not increasing in rating at level %d rating %d", l, r)
			}
			if l > MinLevel && CalculateXP(l, r) != 3*CalculateXP(l-1, r) {
				t.Fatalf("level %d rating %d is not 3x the previous level", l, r)
			}
		}
	}
}

func TestEvaluate_FailureBansLowLevels(t *testing.T) {
	for _, level := range []int{1, 2} {
		res := Evaluate(Input{CurrentXP: 150, CurrentLevel: level, CompletedProjects: 3, ProjectLevel: 2, Rating: 0})
		if res.Status != OutcomeBanned || !res.Banned {
			t.Fatalf("level %d: expected ban, got %+v", level, res)
		}
		if res.XPEarned != 0 || res.NewXP != 150 {
			t.Fatalf("level %d: expected no XP change, got %+v", level, res)
		}
		if res.CompletedProjects != 4 {
			t.Fatalf("level %d: completed projects = %d, want 4", level, res.CompletedProjects)
		}
	}
}

func TestEvaluate_FailureDemotesKeepingXP(t *testing.T) {
	res := Evaluate(Input{CurrentXP: 2000, CurrentLevel: 4, CompletedProjects: 12, ProjectLevel: 4, Rating: 0})
	if res.Status != OutcomeLevelDown || res.NewLevel != 3 {
		t.Fatalf("expected level down to 3, got %+v", res)
	}
	if res.XPEarned != 0 || res.NewXP != 2000 {
		t.Fatalf("expected XP retained, got %+v", res)
	}
	if res.Banned {
		t.Fatalf("demotion must not ban")
	}
}

func TestEvaluate_BannedShortCircuits(t *testing.T) {
	for rating := 0; rating <= 5; rating++ {
		res := Evaluate(Input{CurrentXP: 50, CurrentLevel: 2, CompletedProjects: 1, Banned: true, ProjectLevel: 3, Rating: rating})
		if res.Status != OutcomeBanned || res.XPEarned != 0 || res.NewLevel != 2 || res.NewXP != 50 || res.CompletedProjects != 1 {
			t.Fatalf("rating %d: banned coder changed: %+v", rating, res)
		}
	}
}

func TestEvaluate_LevelUpCountsCurrentProject(t *testing.T) {
	// 80 + 40 = 120 XP and the project being rated is the second one.
	res := Evaluate(Input{CurrentXP: 80, CurrentLevel: 1, CompletedProjects: 1, ProjectLevel: 1, Rating: 2})
	if res.Status != OutcomeLevelUp || res.NewLevel != 2 {
		t.Fatalf("expected level up to 2, got %+v", res)
	}
	if res.NewXP != 120 || res.XPEarned != 40 {
		t.Fatalf("unexpected XP: %+v", res)
	}
}

func TestEvaluate_ProjectsGateLevelUp(t *testing.T) {
	// Enough XP for level 3 but only the first project.
	res := Evaluate(Input{CurrentXP: 0, CurrentLevel: 1, CompletedProjects: 0, ProjectLevel: 6, Rating: 5})
	if res.Status != OutcomeSuccess || res.NewLevel != 1 {
		t.Fatalf("expected no level change, got %+v", res)
	}
}

func TestEvaluate_NeverLowersOnSuccess(t *testing.T) {
	// Soft-demoted coder whose XP is below their level threshold.
	res := Evaluate(Input{CurrentXP: 10, CurrentLevel: 5, CompletedProjects: 2, ProjectLevel: 1, Rating: 1})
	if res.NewLevel != 5 || res.Status != OutcomeSuccess {
		t.Fatalf("expected level to stay 5, got %+v", res)
	}
}

func TestProgress(t *testing.T) {
	cases := []struct {
		xp    int64
		level int
		want  float64
	}{
		{0, 1, 0},
		{50, 1, 50},
		{250, 2, 50},
		{400, 2, 100},
		{99999, 6, 100},
		{0, 6, 100},
	}
	for _, tc := range cases {
		if got := Progress(tc.xp, tc.level); got != tc.want {
			t.Errorf("Progress(%d, %d) = %v, want %v", tc.xp, tc.level, got, tc.want)
		}
	}
}

func TestLevelFor(t *testing.T) {
	if got := LevelFor(15000, 35); got != 6 {
		t.Fatalf("LevelFor = %d, want 6", got)
	}
	if got := LevelFor(15000, 4); got != 2 {
		t.Fatalf("LevelFor = %d, want 2", got)
	}
}
