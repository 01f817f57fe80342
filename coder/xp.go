package coder

const (
	MinLevel  = 1
	MaxLevel  = 6
	MinRating = 0
	MaxRating = 5
)

// xpTable[level-1][rating]. Each level row is the previous one scaled by 3.
var xpTable = [MaxLevel][MaxRating + 1]int64{
	{0, 20, 40, 60, 80, 100},
	{0, 60, 120, 180, 240, 300},
	{0, 180, 360, 540, 720, 900},
	{0, 540, 1080, 1620, 2160, 2700},
	{0, 1620, 3240, 4860, 6480, 8100},
	{0, 4860, 9720, 14580, 19440, 24300},
}

type Threshold struct {
	Level            int
	MinXP            int64
	ProjectsRequired int
}

// Thresholds are ascending by level.
var Thresholds = []Threshold{
	{Level: 1, MinXP: 0, ProjectsRequired: 0},
	{Level: 2, MinXP: 100, ProjectsRequired: 2},
	{Level: 3, MinXP: 400, ProjectsRequired: 5},
	{Level: 4, MinXP: 1500, ProjectsRequired: 10},
	{Level: 5, MinXP: 5000, ProjectsRequired: 20},
	{Level: 6, MinXP: 15000, ProjectsRequired: 35},
}

func ClampLevel(level int) int {
	return clamp(level, MinLevel, MaxLevel)
}

func ClampRating(rating int) int {
	return clamp(rating, MinRating, MaxRating)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CalculateXP is the award for one project. Out of range inputs are clamped.
func CalculateXP(projectLevel, rating int) int64 {
	return xpTable[ClampLevel(projectLevel)-1][ClampRating(rating)]
}

// LevelFor is the highest level whose XP and project requirements are met.
func LevelFor(xp int64, projects int) int {
	level := MinLevel
	for _, th := range Thresholds {
		if xp >= th.MinXP && projects >= th.ProjectsRequired {
			level = th.Level
		}
	}
	return level
}

// Progress is the percentage of the XP span between level and the next
// level's threshold. The top level always reports 100.
func Progress(xp int64, level int) float64 {
	level = ClampLevel(level)
	if level == MaxLevel {
		return 100
	}
	lo := Thresholds[level-1].MinXP
	hi := Thresholds[level].MinXP
	if xp <= lo {
		return 0
	}
	if xp >= hi {
		return 100
	}
	pct := float64(xp-lo) / float64(hi-lo) * 100
	return float64(int(pct*10)) / 10
}

type Input struct {
	CurrentXP         int64
	CurrentLevel      int
	CompletedProjects int
	Banned            bool
	ProjectLevel      int
	Rating            int
}

type Result struct {
	Status            Outcome
	XPEarned          int64
	NewLevel          int
	NewXP             int64
	CompletedProjects int
	Banned            bool
	Progress          float64
}

// Evaluate applies one rating to a coder's standing. It never touches
// storage. A level-down keeps the XP total, so XP may exceed what the new
// level's threshold implies.
func Evaluate(in Input) Result {
	level := ClampLevel(in.CurrentLevel)
	rating := ClampRating(in.Rating)
	projectLevel := ClampLevel(in.ProjectLevel)

	if in.Banned {
		return Result{
			Status:            OutcomeBanned,
			NewLevel:          level,
			NewXP:             in.CurrentXP,
			CompletedProjects: in.CompletedProjects,
			Banned:            true,
			Progress:          Progress(in.CurrentXP, level),
		}
	}

	res := Result{
		NewXP:             in.CurrentXP,
		NewLevel:          level,
		CompletedProjects: in.CompletedProjects + 1,
	}

	if rating == 0 {
		if level <= 2 {
			res.Status = OutcomeBanned
			res.Banned = true
		} else {
			res.Status = OutcomeLevelDown
			res.NewLevel = level - 1
		}
		res.Progress = Progress(res.NewXP, res.NewLevel)
		return res
	}

	res.XPEarned = CalculateXP(projectLevel, rating)
	res.NewXP = in.CurrentXP + res.XPEarned
	if earned := LevelFor(res.NewXP, res.CompletedProjects); earned > level {
		res.NewLevel = earned
		res.Status = OutcomeLevelUp
	} else {
		res.Status = OutcomeSuccess
	}
	res.Progress = Progress(res.NewXP, res.NewLevel)
	return res
}
