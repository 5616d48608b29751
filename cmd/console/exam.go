package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/portal"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/internal/session"
)

var errNotAssigned = errors.New("test is not assigned to this student")

// takeTest runs one attempt interactively. Answers are read as option numbers,
// one line per question; the countdown finishes the attempt on its own.
func takeTest(ctx context.Context, repl *replicator.Replicator, actions *portal.Portal, testID, email string, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	if err := repl.Ready(ctx); err != nil {
		return err
	}
	test, err := actions.Test(testID)
	if err != nil {
		return err
	}
	assigned, err := actions.AssignedTests(email)
	if err != nil {
		return err
	}
	if !containsTest(assigned, testID) {
		return fmt.Errorf("%w: %s", errNotAssigned, testID)
	}

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go func() {
		_ = repl.Run(syncCtx)
	}()

	manager := session.NewManager(session.NewReplicatorRecorder(repl), nil, logger)
	attempt, err := manager.Open(ctx, test, email)
	if err != nil {
		return err
	}
	defer attempt.Close()

	switch attempt.State() {
	case session.Submitted:
		result, _ := attempt.Result()
		fmt.Fprintf(out, "Already submitted: %d/%d\n", result.Score, result.Total)
		return nil
	case session.Expired:
		return session.ErrDeadlinePassed
	}

	if err := attempt.Start(); err != nil {
		return err
	}
	if remaining := attempt.Remaining(); remaining > 0 {
		fmt.Fprintf(out, "%s: %d questions, %s left\n", test.Topic, len(test.Questions), session.FormatRemaining(remaining))
	} else {
		fmt.Fprintf(out, "%s: %d questions\n", test.Topic, len(test.Questions))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-attempt.Done():
				return
			}
		}
	}()

questions:
	for i, question := range test.Questions {
		fmt.Fprintf(out, "\n%d. %s\n", i+1, question.Question)
		for j, option := range question.Options {
			fmt.Fprintf(out, "   %d) %s\n", j+1, option)
		}

		for {
			select {
			case <-attempt.Done():
				fmt.Fprintln(out, "\nTime is up.")
				break questions
			case line, ok := <-lines:
				if !ok {
					break questions
				}
				choice, err := strconv.Atoi(strings.TrimSpace(line))
				if err != nil || choice < 1 || choice > len(question.Options) {
					fmt.Fprintf(out, "Enter a number from 1 to %d\n", len(question.Options))
					continue
				}
				if err := attempt.Answer(i, choice-1); err != nil {
					if errors.Is(err, session.ErrNotInProgress) {
						break questions
					}
					return err
				}
				continue questions
			}
		}
	}

	result, err := attempt.Finish(ctx)
	switch {
	case err == nil, errors.Is(err, session.ErrSessionClosed):
	case errors.Is(err, session.ErrDuplicateAttempt):
		fmt.Fprintln(out, "An earlier attempt was already recorded.")
	default:
		return err
	}

	stopSync()
	repl.Flush(ctx)
	if dirty := repl.Dirty(); len(dirty) > 0 {
		logger.Warn().Strs("collections", dirty).Msg("result not yet confirmed by the store")
	}

	fmt.Fprintf(out, "Score: %d/%d\n", result.Score, result.Total)
	return nil
}

func containsTest(tests []models.Test, id string) bool {
	for _, test := range tests {
		if test.ID == id {
			return true
		}
	}
	return false
}
