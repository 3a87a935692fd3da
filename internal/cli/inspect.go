package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"quiz-agent/internal/config"
	"quiz-agent/internal/domain"
	"quiz-agent/internal/gate"
	"quiz-agent/internal/logger"
	"quiz-agent/internal/review"
)

// NewStatusCmd prints whether a quiz may be started for a lesson.
func NewStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <lessonID>",
		Short: "Check quiz eligibility for a lesson",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			d, err := buildDeps(cmd.Context(), cfg, logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))
			if err != nil {
				return err
			}
			defer d.Close()

			decision, err := gate.New(d.client).Check(cmd.Context(), args[0])
			if err != nil {
				return errors.New(domain.UserMessage(err))
			}
			printDecision(cmd.OutOrStdout(), decision)
			return nil
		},
	}
}

// NewReviewCmd prints the breakdown of a stored attempt.
func NewReviewCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "review <attemptID>",
		Short: "Show the review of a submitted attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			d, err := buildDeps(cmd.Context(), cfg, logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))
			if err != nil {
				return err
			}
			defer d.Close()

			snapshot, err := d.reviews.LoadReview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rv, err := review.FromSnapshot(snapshot)
			if err != nil {
				return err
			}
			printReview(cmd.OutOrStdout(), rv)
			return nil
		},
	}
}

func printDecision(w io.Writer, d gate.Decision) {
	if d.Allowed {
		fmt.Fprintf(w, "lesson %s: quiz available\n", d.LessonID)
	} else {
		fmt.Fprintf(w, "lesson %s: quiz not available\n", d.LessonID)
	}
	for _, line := range d.Lines() {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printReview(w io.Writer, rv review.Review) {
	fmt.Fprintf(w, "%s  score %d%%  correct %d  wrong %d  tokens %d\n", rv.Headline, rv.Score, rv.Correct, rv.Wrong, rv.TokensAwarded)
	if rv.Message != "" {
		fmt.Fprintf(w, "%s\n", rv.Message)
	}
	for i, row := range rv.Rows {
		choice := row.UserChoice
		if choice == "" {
			choice = "-"
		}
		fmt.Fprintf(w, "%2d. [%s] %s  (yours: %s, correct: %s)\n", i+1, row.State, row.Prompt, choice, row.CorrectChoice)
	}
}
