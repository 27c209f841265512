// Command player joins a live quiz from the terminal.
//
//	player -server http://localhost:8080 -room 482913 -name Alex
//
// Type an option number (1-4) or a text answer and press enter while a
// question is open.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"live-quiz/internal/models"
	"live-quiz/pkg/client"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "quiz server base URL")
	room := flag.String("room", "", "six digit room code")
	name := flag.String("name", "", "display name")
	flag.Parse()

	if *room == "" || *name == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := client.Join(ctx, *serverURL, *room, *name)
	if err != nil {
		log.Fatalf("Failed to join room %s: %v", *room, err)
	}
	fmt.Printf("Joined room %s as %s\n", p.RoomCode, p.Name)

	go readAnswers(ctx, p)

	var last string
	err = p.Listen(ctx, func(v client.View) {
		if line := render(v); line != last {
			fmt.Println(line)
			last = line
		}
	})
	switch {
	case errors.Is(err, models.ErrParticipantRemoved):
		fmt.Println("The host removed you from this quiz.")
	case err != nil && !errors.Is(err, context.Canceled):
		log.Fatalf("Lost the quiz: %v", err)
	}
}

func render(v client.View) string {
	if v.Removed {
		return "Removed by the host."
	}
	if !v.Connected && !v.Ended {
		return "Connecting..."
	}

	switch v.Phase {
	case models.PhaseLobby:
		return "Waiting for the host to start."
	case models.PhaseQuestion:
		if v.Question == nil {
			return "Loading question..."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Q%d: %s", v.SlideIndex+1, v.Question.Text)
		for _, opt := range v.Question.Options {
			fmt.Fprintf(&b, "\n  %d) %s", opt.Index+1, opt.Text)
		}
		switch {
		case v.Response != nil:
			b.WriteString("\nAnswer sent.")
		case v.Locked:
			b.WriteString("\nTime is up.")
		default:
			fmt.Fprintf(&b, "\n%ds left", v.Remaining)
		}
		return b.String()
	case models.PhaseLocked:
		if v.Response == nil {
			return "Answers locked. You did not answer."
		}
		if v.Response.IsCorrect {
			return fmt.Sprintf("Correct! Score: %d", v.Participant.Score)
		}
		return fmt.Sprintf("Not this time. Score: %d", v.Participant.Score)
	case models.PhaseLeaderboard, models.PhaseEnded:
		var b strings.Builder
		if v.Ended {
			b.WriteString("Final results")
		} else {
			b.WriteString("Leaderboard")
		}
		for _, e := range v.Leaderboard {
			fmt.Fprintf(&b, "\n  %d. %s %d", e.Rank, e.DisplayName, e.Score)
		}
		return b.String()
	case models.PhaseTransition:
		return "Next question coming up..."
	}
	return string(v.Phase)
}

// readAnswers submits every line typed on stdin for the current question.
func readAnswers(ctx context.Context, p *client.Participant) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var a client.Answer
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= 4 {
			idx := n - 1
			a.Option = &idx
		} else {
			a.Text = line
		}

		if _, err := p.SubmitAnswer(ctx, a); err != nil {
			fmt.Println(err)
		}
	}
}
