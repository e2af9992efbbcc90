package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dsaroadmap/internal/service"
	"dsaroadmap/internal/stats"
)

func runSignUp(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	username := fs.String("username", "", "Display name")
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (at least 6 characters)")
	fs.Parse(args)

	res, err := a.auth.SignUp(ctx, *username, *email, *password)
	if err != nil {
		return err
	}
	if res.PendingVerification {
		fmt.Printf("Account created for %s. Check your inbox to verify your email.\n", res.User.Email)
		return nil
	}
	fmt.Printf("Account created for %s. You can now log in.\n", res.User.Email)
	return nil
}

func runVerify(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roadmap verify <token>")
	}
	user, err := a.auth.VerifyEmail(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Email %s verified. You can now log in.\n", user.Email)
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(args)

	if removed, err := a.auth.CleanupExpiredSessions(ctx); err != nil {
		a.logger.Warn("failed to clean up sessions", "error", err)
	} else if removed > 0 {
		a.logger.Info("expired sessions removed", "count", removed)
	}

	session, err := a.auth.SignIn(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := a.saveSession(session); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (session valid until %s)\n", session.User.Username, session.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	if a.session == nil {
		fmt.Println("Not signed in")
		return nil
	}
	if err := a.auth.SignOut(ctx, a.session.AccessToken); err != nil {
		return err
	}
	a.session = nil
	if err := os.Remove(a.cfg.SessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	days := fs.Int("days", stats.DefaultActivityDays, "Days of activity to show")
	fs.Parse(args)

	if err := a.requireSession(); err != nil {
		return err
	}
	if err := a.requireCurriculum(); err != nil {
		return err
	}

	now := time.Now()
	snap := a.progress.Snapshot()
	summary := stats.Calculate(a.curriculum, snap, now)

	fmt.Printf("Signed in as %s <%s>\n\n", a.session.User.Username, a.session.User.Email)
	fmt.Printf("Tasks      %d / %d (%d%%)\n", summary.CompletedCount, summary.TotalTasks, summary.CompletionPercentage)
	fmt.Printf("Days       %d / %d\n", summary.CompletedDays, summary.TotalDays)
	fmt.Printf("Streak     %d (best %d)\n", summary.CurrentStreak, summary.MaxStreak)
	fmt.Printf("Readiness  %d%%\n", summary.ReadinessScore)
	fmt.Printf("Skipped    %d days\n\n", len(snap.SkippedDays))

	a.feed.Notify(service.Notification{Kind: service.NotifyInfo, Message: stats.MotivationMessage(summary)})

	printHeatmap(stats.ActivitySeries(snap.CompletedTasks, now, *days))
	return nil
}

// printHeatmap draws one row per week, oldest first.
func printHeatmap(series []stats.DayCount) {
	const shades = " .:*#"
	var row strings.Builder
	for i, dc := range series {
		if i%7 == 0 {
			if row.Len() > 0 {
				fmt.Println(row.String())
				row.Reset()
			}
			row.WriteString(dc.Date + "  ")
		}
		level := dc.Count
		if level >= len(shades) {
			level = len(shades) - 1
		}
		row.WriteByte(shades[level])
	}
	if row.Len() > 0 {
		fmt.Println(row.String())
	}
}

// runPlan lists every week with a per-day completion mark.
func runPlan(ctx context.Context, a *app, args []string) error {
	if err := a.requireCurriculum(); err != nil {
		return err
	}
	snap := a.progress.Snapshot()
	for _, week := range a.curriculum.Weeks() {
		fmt.Printf("Week %d: %s\n", week.Number, week.Title)
		for _, day := range week.Days {
			mark := " "
			if stats.IsDayCompleted(day, snap.CompletedTasks) {
				mark = "x"
			} else if _, skipped := snap.SkippedDays[day.ID()]; skipped {
				mark = "-"
			}
			fmt.Printf("  [%s] %-9s %s\n", mark, day.ID(), day.Title)
		}
	}
	return nil
}

func runDay(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roadmap day <dayID>")
	}
	if err := a.requireCurriculum(); err != nil {
		return err
	}
	day, ok := a.curriculum.Day(args[0])
	if !ok {
		return fmt.Errorf("unknown day %q", args[0])
	}

	snap := a.progress.Snapshot()
	fmt.Printf("Week %d, day %d: %s\n", day.Week, day.Number, day.Title)
	if snap.IsDaySkipped(day.ID()) {
		fmt.Println("(skipped)")
	}
	for _, t := range day.Tasks {
		mark := " "
		if snap.IsTaskCompleted(t.ID) {
			mark = "x"
		}
		fmt.Printf("  [%s] %-8s %s\n", mark, t.ID, t.Title)
	}
	if note := snap.Notes[day.ID()]; note != "" {
		fmt.Printf("\nNote: %s\n", note)
	}
	return nil
}

func runToggle(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roadmap toggle <taskID>")
	}
	if a.curriculum != nil && !a.curriculum.HasTask(args[0]) {
		a.feed.Notify(service.Notification{Kind: service.NotifyWarning, Message: fmt.Sprintf("%s is not in the curriculum", args[0])})
	}
	res := a.progress.ToggleTask(ctx, args[0])
	if res.Outcome != service.OutcomeApplied {
		return res.Err
	}
	if a.progress.Snapshot().IsTaskCompleted(args[0]) {
		fmt.Printf("%s completed\n", args[0])
	} else {
		fmt.Printf("%s marked as not done\n", args[0])
	}
	return nil
}

func runNote(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: roadmap note <dayID> <text>")
	}
	text := strings.Join(args[1:], " ")
	if text == "-" {
		data, err := readAll(os.Stdin)
		if err != nil {
			return err
		}
		text = data
	}
	res := a.progress.UpdateNote(args[0], text)
	if res.Outcome == service.OutcomeRejected {
		return res.Err
	}
	if err := a.progress.FlushNotes(ctx); err != nil {
		return err
	}
	fmt.Printf("Note for %s saved\n", args[0])
	return nil
}

func readAll(f *os.File) (string, error) {
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read note: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

func runSkip(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roadmap skip <dayID>")
	}
	if a.curriculum != nil && !a.curriculum.HasDay(args[0]) {
		a.feed.Notify(service.Notification{Kind: service.NotifyWarning, Message: fmt.Sprintf("%s is not in the curriculum", args[0])})
	}
	res := a.progress.ToggleSkipDay(ctx, args[0])
	if res.Outcome != service.OutcomeApplied {
		return res.Err
	}
	if a.progress.Snapshot().IsDaySkipped(args[0]) {
		fmt.Printf("%s skipped\n", args[0])
	} else {
		fmt.Printf("%s no longer skipped\n", args[0])
	}
	return nil
}

func runReset(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm deleting all progress")
	fs.Parse(args)

	if !*yes {
		fmt.Print("WARNING: This will delete all your progress. Type 'yes' to confirm: ")
		var confirmation string
		fmt.Scanln(&confirmation)
		if confirmation != "yes" {
			fmt.Println("Reset cancelled")
			return nil
		}
	}
	return a.progress.ResetProgress(ctx)
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("output", "", "Output file path (default: progress_YYYYMMDD_HHMMSS.json)")
	fs.Parse(args)

	if err := a.requireSession(); err != nil {
		return err
	}
	if *output == "" {
		*output = fmt.Sprintf("progress_%s.json", time.Now().Format("20060102_150405"))
	}

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	if err := a.backups.ExportUser(ctx, a.session.User.ID, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	fmt.Printf("Progress exported to %s\n", *output)
	return nil
}

func runImport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	input := fs.String("input", "", "Input file path (required)")
	fs.Parse(args)

	if err := a.requireSession(); err != nil {
		return err
	}
	if *input == "" {
		return errors.New("-input flag is required")
	}

	f, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if err := a.backups.ImportUser(ctx, a.session.User.ID, f); err != nil {
		return err
	}
	if err := a.progress.Reload(ctx); err != nil {
		return err
	}
	fmt.Printf("Progress imported from %s\n", *input)
	return nil
}
