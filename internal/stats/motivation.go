package stats

import "fmt"

// MotivationMessage picks the banner text. Streak rungs win over percentage rungs.
func MotivationMessage(s Summary) string {
	switch {
	case s.CurrentStreak >= 7:
		return fmt.Sprintf("🔥 Amazing! %d-day streak! You're unstoppable!", s.CurrentStreak)
	case s.CurrentStreak >= 3:
		return fmt.Sprintf("💪 %d-day streak! Keep the momentum going!", s.CurrentStreak)
	case s.CompletionPercentage == 0:
		return "🎯 Begin your journey to DSA mastery!"
	case s.CompletionPercentage < 10:
		return "🌱 Great start! Keep the momentum going!"
	case s.CompletionPercentage < 25:
		return "💪 You're building strong foundations!"
	case s.CompletionPercentage < 50:
		return "🔥 Halfway there! Your progress is impressive!"
	case s.CompletionPercentage < 75:
		return "⭐ You're in the advanced zone now!"
	case s.CompletionPercentage < 100:
		return "🏆 Almost there! The finish line is in sight!"
	default:
		return "🎉 Congratulations! You've mastered the roadmap!"
	}
}
