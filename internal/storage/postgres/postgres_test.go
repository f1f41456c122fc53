//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LABRUNNER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LABRUNNER_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	user := "user-" + uuid.NewString()
	out := "8\n"
	res := execution.NewGradingResult([]execution.TestCaseResult{
		{Index: 1, Input: "5\n3", ExpectedOutput: "8", ActualOutput: &out, Passed: true},
	})
	sub := storage.NewSubmission(user, "sum-of-two", execution.LanguagePython, "print(8)", res)
	sub.ID = uuid.NewString()

	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	got, err := s.GetSubmission(ctx, sub.ID[:13])
	if err != nil {
		t.Fatalf("GetSubmission by prefix: %v", err)
	}
	if got.Status != storage.StatusPassed || len(got.Results) != 1 || *got.Results[0].ActualOutput != "8\n" {
		t.Errorf("got = %+v", got)
	}

	n, err := s.CountAttempts(ctx, user, "sum-of-two")
	if err != nil || n != 1 {
		t.Errorf("CountAttempts = %d, %v", n, err)
	}

	list, err := s.ListSubmissions(ctx, storage.ListOptions{UserID: user})
	if err != nil || len(list) != 1 {
		t.Errorf("ListSubmissions = %d, %v", len(list), err)
	}

	if err := s.DeleteSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubmission: %v", err)
	}
	if _, err := s.GetSubmission(ctx, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err after delete = %v", err)
	}
}
