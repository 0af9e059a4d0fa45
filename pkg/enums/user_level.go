package enums

// UserLevel is the loyalty tier derived from accumulated points.
type UserLevel string

const (
	UserLevelNew          UserLevel = "new"
	UserLevelBeginner     UserLevel = "beginner"
	UserLevelIntermediate UserLevel = "intermediate"
	UserLevelPro          UserLevel = "pro"
	UserLevelVIP          UserLevel = "vip"
)

var levelThresholds = []struct {
	min   int64
	level UserLevel
}{
	{10000, UserLevelVIP},
	{5000, UserLevelPro},
	{2000, UserLevelIntermediate},
	{500, UserLevelBeginner},
}

// LevelForPoints returns the tier a point balance qualifies for.
func LevelForPoints(points int64) UserLevel {
	for _, t := range levelThresholds {
		if points >= t.min {
			return t.level
		}
	}
	return UserLevelNew
}
