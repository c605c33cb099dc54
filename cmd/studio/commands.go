package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dom/genstudio/internal/client"
	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/session"
	"github.com/dom/genstudio/internal/studio"
)

func (a *app) signupCmd(args []string) int {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "Account email (required)")
	password := fs.String("password", "", "Password, at least 6 characters (required)")
	confirm := fs.String("confirm", "", "Password confirmation (defaults to --password)")
	fs.Parse(args)

	if *confirm == "" {
		*confirm = *password
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Print("Creating account... ")
	sess, err := a.session.Signup(ctx, session.SignupCredentials{
		Email:           *email,
		Password:        *password,
		ConfirmPassword: *confirm,
	})
	if err != nil {
		fmt.Printf("FAILED\n  Error: %s\n", domain.MessageOf(err))
		return 1
	}
	fmt.Printf("OK (%s, expires %s)\n", sess.Email, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return 0
}

func (a *app) loginCmd(args []string) int {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email (required)")
	password := fs.String("password", "", "Password (required)")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Print("Logging in... ")
	sess, err := a.session.Login(ctx, session.Credentials{Email: *email, Password: *password})
	if err != nil {
		fmt.Printf("FAILED\n  Error: %s\n", domain.MessageOf(err))
		return 1
	}
	fmt.Printf("OK (%s, expires %s)\n", sess.Email, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return 0
}

func (a *app) logoutCmd(args []string) int {
	a.session.Logout()
	fmt.Println("Logged out")
	return 0
}

func (a *app) whoamiCmd(args []string) int {
	sess, ok := a.session.Session()
	if !ok {
		fmt.Println("Not logged in")
		return 1
	}
	token, _ := a.session.Token()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user, err := a.api.Me(ctx, token)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuth {
			a.session.Invalidate()
		}
		fmt.Printf("Error: %s\n", domain.MessageOf(err))
		return 1
	}

	fmt.Printf("  Email:   %s\n", user.Email)
	fmt.Printf("  User ID: %s\n", user.ID)
	fmt.Printf("  Expires: %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return 0
}

func (a *app) generateCmd(args []string) int {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	imagePath := fs.String("image", "", "JPEG or PNG image to upload (required)")
	prompt := fs.String("prompt", "", "Prompt text (required)")
	style := fs.String("style", "", "Style name (required)")
	contentType := fs.String("type", "", "Declared image type (detected from content when empty)")
	fs.Parse(args)

	req := studio.Request{Prompt: *prompt, Style: *style}
	if *imagePath != "" {
		file, err := os.Open(*imagePath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return 1
		}
		defer file.Close()
		req.Asset = &studio.Asset{
			Filename:    filepath.Base(*imagePath),
			ContentType: *contentType,
			Reader:      file,
		}
	}

	history := studio.NewHistory(a.api, a.session)
	orch := studio.NewOrchestrator(a.api, a.session, history, studio.RetryPolicy{
		MaxAttempts: a.cfg.MaxAttempts,
		Backoff:     a.cfg.RetryBackoff,
	})
	orch.OnTransition = func(tr studio.Transition) {
		switch tr.To {
		case studio.StateSubmitting:
			fmt.Printf("Submitting (attempt %d/%d)...\n", tr.Attempt, a.cfg.MaxAttempts)
		case studio.StateRetryPending:
			fmt.Printf("%s. Retrying... (%d/%d)\n", domain.MsgModelOverloaded, tr.Attempt, a.cfg.MaxAttempts)
		}
	}

	// Ctrl-C cancels the in-flight request.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.Generate(ctx, req)
	if err != nil {
		if result != nil && result.Outcome == studio.OutcomeAborted {
			fmt.Println(domain.MsgGenerationCancelled)
			return 130
		}
		fmt.Printf("Error: %s\n", domain.MessageOf(err))
		return 1
	}

	gen := result.Generation
	fmt.Println()
	fmt.Println("=========================================")
	fmt.Println("  GENERATION SUCCEEDED")
	fmt.Println("=========================================")
	fmt.Println()
	fmt.Printf("  ID:        %s\n", gen.ID)
	fmt.Printf("  Image URL: %s\n", gen.ImageURL)
	fmt.Printf("  Prompt:    %s\n", gen.Prompt)
	fmt.Printf("  Style:     %s\n", gen.Style)
	fmt.Printf("  Attempts:  %d\n", result.Attempts)
	fmt.Println()

	printHistory(history.Items())
	return 0
}

func (a *app) historyCmd(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", a.cfg.HistoryLimit, "Number of generations to show (max 50)")
	watch := fs.Bool("watch", false, "Keep running and refresh when new generations arrive")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history := studio.NewHistory(a.api, a.session)
	items, err := history.Load(ctx, *limit)
	if err != nil {
		fmt.Printf("Error: %s\n", domain.MessageOf(err))
		return 1
	}
	printHistory(items)

	if !*watch {
		return 0
	}

	token, ok := a.session.Token()
	if !ok {
		fmt.Println("Not logged in")
		return 1
	}

	fmt.Println("Watching for new generations (Ctrl-C to stop)...")
	err = a.api.Watch(ctx, token, func(event client.Event) {
		if event.Type != client.EventGenerationCreated {
			return
		}
		items, err := history.Refresh(ctx)
		if err != nil {
			fmt.Printf("Warning: refresh failed: %s\n", domain.MessageOf(err))
		}
		printHistory(items)
	})
	if err != nil {
		fmt.Printf("Error: %s\n", domain.MessageOf(err))
		return 1
	}
	return 0
}

func printHistory(items []client.Generation) {
	if len(items) == 0 {
		fmt.Println("No generations yet")
		return
	}

	fmt.Printf("Recent generations (%d):\n", len(items))
	for i, gen := range items {
		fmt.Printf("  [%d] %s  %-12s %s\n", i+1, gen.CreatedAt.Local().Format("2006-01-02 15:04:05"), gen.Style, gen.Prompt)
		fmt.Printf("      %s\n", gen.ImageURL)
	}
}
