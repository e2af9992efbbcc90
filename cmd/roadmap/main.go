package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dsaroadmap/internal/config"
	"dsaroadmap/internal/curriculum"
	"dsaroadmap/internal/database"
	"dsaroadmap/internal/observability"
	"dsaroadmap/internal/repository"
	"dsaroadmap/internal/security"
	"dsaroadmap/internal/service"
)

// app bundles everything a subcommand may need
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *database.DB
	auth       *service.AuthService
	progress   *service.ProgressController
	backups    *service.BackupService
	feed       *service.Feed
	curriculum *curriculum.Curriculum
	session    *service.Session
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"signup", "signup -username <name> -email <email> -password <password>", runSignUp},
	{"verify", "verify <token>", runVerify},
	{"login", "login -email <email> -password <password>", runLogin},
	{"logout", "logout", runLogout},
	{"status", "status [-days 90]", runStatus},
	{"plan", "plan", runPlan},
	{"day", "day <dayID>", runDay},
	{"toggle", "toggle <taskID>", runToggle},
	{"note", "note <dayID> <text>", runNote},
	{"skip", "skip <dayID>", runSkip},
	{"reset", "reset -yes", runReset},
	{"export", "export [-output <file>]", runExport},
	{"import", "import -input <file>", runImport},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd, ok := lookup(os.Args[1])
	if !ok {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd.name)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.db.Close()

	runErr := cmd.run(ctx, a, os.Args[2:])

	// notes are debounced; write whatever is still waiting before exiting
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.progress.FlushNotes(flushCtx); err != nil {
		a.logger.Error("failed to flush notes", "error", err)
	}
	cancel()
	a.progress.Close()

	a.printNotifications()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func setup(ctx context.Context, command string) (*app, error) {
	cfg := config.Load()
	observability.Configure(os.Stderr, cfg.LogLevel)
	logger := observability.WithFields("command", command)

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Debug("database connection established", "type", db.Dialect.Name())

	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	tokens, err := security.NewTokenIssuer(cfg.JWTSecret, "dsaroadmap")
	if err != nil {
		db.Close()
		return nil, err
	}

	mailer, err := newMailer(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	userRepo := repository.NewUserRepository(db)
	progressRepo := repository.NewProgressRepository(db)

	feed := service.NewFeed()
	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		auth:    service.NewAuthService(userRepo, tokens, mailer, cfg.SessionDuration, logger),
		backups: service.NewBackupService(userRepo, progressRepo, logger),
		feed:    feed,
	}
	a.progress = service.NewProgressController(
		service.NewSQLProgressStore(progressRepo, logger),
		service.ControllerOptions{
			Notifier:     service.MultiNotifier{service.LogNotifier{Logger: logger}, feed},
			Logger:       logger,
			NoteDebounce: cfg.NoteDebounce,
		},
	)
	a.auth.Subscribe(func(event service.AuthEvent, session *service.Session) {
		if err := a.progress.HandleAuthEvent(ctx, event, session); err != nil {
			logger.Warn("progress not loaded after auth change", "event", string(event), "error", err)
		}
	})

	if cur, err := curriculum.LoadFile(cfg.CurriculumPath); err != nil {
		logger.Warn("curriculum not loaded", "path", cfg.CurriculumPath, "error", err)
	} else {
		a.curriculum = cur
	}

	if err := a.restoreSession(ctx); err != nil {
		logger.Warn("failed to restore session", "error", err)
	}
	return a, nil
}

// newMailer returns the SES sender, or a console sender when EMAIL_DEBUG is
// set without SES so the verify flow can be exercised locally.
func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.VerificationSender, error) {
	email, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AppBaseURL, logger)
	if err != nil {
		return nil, err
	}
	if !email.IsEnabled() && cfg.EmailDebug {
		return consoleMailer{}, nil
	}
	return email, nil
}

type consoleMailer struct{}

func (consoleMailer) IsEnabled() bool { return true }

func (consoleMailer) SendVerificationEmail(ctx context.Context, toEmail, toName, token string) error {
	fmt.Printf("[email debug] verification for %s: roadmap verify %s\n", toEmail, token)
	return nil
}

func (a *app) restoreSession(ctx context.Context) error {
	data, err := os.ReadFile(a.cfg.SessionFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	session, err := a.auth.GetSession(ctx, strings.TrimSpace(string(data)))
	if err != nil {
		return err
	}
	if session == nil {
		a.logger.Info("stored session is no longer valid")
		return os.Remove(a.cfg.SessionFile)
	}
	a.session = session
	return a.progress.SetIdentity(ctx, &service.Identity{UserID: session.User.ID, Email: session.User.Email})
}

func (a *app) saveSession(session *service.Session) error {
	if dir := filepath.Dir(a.cfg.SessionFile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	if err := os.WriteFile(a.cfg.SessionFile, []byte(session.AccessToken+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	a.session = session
	return nil
}

func (a *app) requireSession() error {
	if a.session == nil {
		return errors.New("not signed in (run: roadmap login)")
	}
	return nil
}

func (a *app) requireCurriculum() error {
	if a.curriculum == nil {
		return fmt.Errorf("no curriculum loaded from %s (set CURRICULUM_PATH)", a.cfg.CurriculumPath)
	}
	return nil
}

func (a *app) printNotifications() {
	for _, n := range a.feed.Active() {
		fmt.Printf("[%s] %s\n", n.Kind, n.Message)
	}
}

func printUsage() {
	fmt.Println("DSA Roadmap progress tracker")
	fmt.Println()
	fmt.Println("Usage:")
	for _, c := range commands {
		fmt.Printf("  roadmap %s\n", c.usage)
	}
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_TYPE          Database type: sqlite, postgres, or mysql (default: sqlite)")
	fmt.Println("  DB_PATH                SQLite database path (default: ./roadmap.db)")
	fmt.Println("  DATABASE_URL           PostgreSQL or MySQL connection URL")
	fmt.Println("  CURRICULUM_PATH        Roadmap JSON file (default: ./data/roadmap.json)")
	fmt.Println("  ROADMAP_SESSION_FILE   Where the access token is kept (default: ~/.roadmap_session)")
	fmt.Println("  JWT_SECRET             Secret used to sign access tokens")
	fmt.Println("  SES_FROM_EMAIL         Enables verification emails through Amazon SES")
}
