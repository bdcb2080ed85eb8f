package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/auth"
	"github.com/harrisonrobin/taskbot/pkg/bot"
	"github.com/harrisonrobin/taskbot/pkg/calsync"
	"github.com/harrisonrobin/taskbot/pkg/config"
	"github.com/harrisonrobin/taskbot/pkg/conversation"
	"github.com/harrisonrobin/taskbot/pkg/google"
	"github.com/harrisonrobin/taskbot/pkg/httpapi"
	"github.com/harrisonrobin/taskbot/pkg/observability"
	"github.com/harrisonrobin/taskbot/pkg/reminder"
	"github.com/harrisonrobin/taskbot/pkg/store"
	"github.com/harrisonrobin/taskbot/pkg/telegram"
)

// terminalChat scopes the authorization started with -auth.
const terminalChat = "terminal"

func main() {
	// 1. Parse Flags
	calendarName := flag.String("calendar", "", "Google Calendar name to sync with (overrides config)")
	setCalendar := flag.String("set-calendar", "", "Set the default Google Calendar name")
	doAuth := flag.Bool("auth", false, "Link Google Calendar from the terminal")
	doUnlink := flag.Bool("unlink", false, "Forget the stored Google token")
	flag.Parse()

	config.LoadEnvFile()

	// 2. Handle Set Calendar
	if *setCalendar != "" {
		cfg, err := config.Load()
		if err != nil {
			cfg = &config.Config{}
		}
		cfg.Calendar = *setCalendar
		if err := config.Save(cfg); err != nil {
			log.Fatalf("Error saving config: %v", err)
		}
		fmt.Printf("Default calendar set to: %s\n", *setCalendar)
		return
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if *calendarName != "" {
		settings.Calendar = *calendarName
	}

	oauthConfig, err := auth.LoadConfig(settings.CredentialsFile, settings.RedirectURL)
	if err != nil {
		log.Printf("Warning: Google Calendar linking is disabled: %v", err)
		oauthConfig = nil
	}
	creds := auth.NewManager(oauthConfig, settings.TokenFile)
	sessions := conversation.NewTable(settings.WizardTimeout)
	metrics := observability.NewMetrics(settings.MetricsNamespace, sessions.Active)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Handle Authentication
	if *doAuth || *doUnlink {
		noLinks := func(context.Context) (int, error) { return 0, nil }
		if _, err := creds.Unlink(ctx, noLinks); err != nil && !errors.Is(err, auth.ErrNotLinked) {
			log.Fatalf("could not delete token file '%s', error %v. Please delete it manually", settings.TokenFile, err)
		}
		if *doUnlink {
			log.Printf("Google Calendar unlinked, token removed from %s", settings.TokenFile)
			return
		}
		if err := authenticate(ctx, creds, metrics, settings.HTTPAddr); err != nil {
			log.Fatalf("Authentication failed: %v", err)
		}
		log.Printf("Authentication successful! Token saved to %s", settings.TokenFile)
		return
	}

	// 4. Run the bot
	tasks, err := store.NewStore(ctx, settings.DatabaseURL, settings.DataFile)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer tasks.Close()

	reminders, err := reminder.NewTable(settings.RemindersFile)
	if err != nil {
		log.Fatalf("reminder table init failed: %v", err)
	}

	calendarClient := google.NewCalendarClient(settings.Calendar)
	router := bot.NewRouter(bot.Options{
		Store:        tasks,
		Sessions:     sessions,
		Creds:        creds,
		Calendar:     calsync.NewAdapter(calendarClient, settings.Location),
		Reminders:    reminders,
		Metrics:      metrics,
		ReminderLead: settings.ReminderLead,
	})

	tg, err := telegram.New(settings.BotToken, router)
	if err != nil {
		log.Fatalf("telegram init failed: %v", err)
	}
	if err := tg.RegisterCommands(bot.Commands); err != nil {
		log.Printf("Warning: %v", err)
	}

	sessions.SetExpireHook(func(s conversation.Session) {
		router.ExpireSession(ctx, s, tg)
	})
	sessions.StartJanitor(ctx, time.Minute)

	go reminders.Run(ctx, 30*time.Second, func(ctx context.Context, e reminder.Entry) error {
		reply, ok := router.Reminder(ctx, e)
		if !ok {
			return nil
		}
		return tg.Send(ctx, reply)
	})

	api := httpapi.New(creds, metrics, func(ctx context.Context, chatID string) {
		if err := tg.Send(ctx, router.AuthCompleted(chatID)); err != nil {
			log.Printf("Error notifying chat %s about linked calendar: %v", chatID, err)
		}
	})
	httpServer := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("server listening on %s", settings.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	log.Printf("taskbot running, calendar %q, timezone %s", settings.Calendar, settings.Location)
	tg.Run(ctx)
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	if err := reminders.Save(); err != nil {
		log.Printf("Warning: failed to save reminders: %v", err)
	}
	log.Printf("shutdown complete")
}

// authenticate links the calendar from the terminal. The redirect is captured
// by the callback server; a code pasted on stdin works as well.
func authenticate(ctx context.Context, creds *auth.Manager, metrics *observability.Metrics, addr string) error {
	start, err := creds.Begin(terminalChat, 0)
	if err != nil {
		return err
	}

	linked := make(chan struct{}, 1)
	api := httpapi.New(creds, metrics, func(context.Context, string) { linked <- struct{}{} })
	srv := &http.Server{Addr: addr, Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Warning: callback server unavailable, paste the code instead: %v", err)
		}
	}()
	defer srv.Close()

	fmt.Printf("Go to the following link in your browser:\n%v\n", start.URL)
	fmt.Println("Waiting for the redirect. If it does not arrive, paste the code here:")

	codes := make(chan string, 1)
	go func() {
		var code string
		if _, err := fmt.Fscanln(os.Stdin, &code); err == nil {
			codes <- code
		}
	}()

	select {
	case <-linked:
		return nil
	case code := <-codes:
		return creds.Complete(ctx, terminalChat, code)
	case <-time.After(auth.FlowTimeout):
		return fmt.Errorf("no authorization code within %s", auth.FlowTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
