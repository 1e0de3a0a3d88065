package submission

import (
	"testing"
	"time"

	"github.com/kaggleboard/backend/challenge"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusSubmitting, StatusSubmitted},
		{StatusSubmitting, StatusFailed},
		{StatusSubmitted, StatusRunning},
		{StatusSubmitted, StatusCancelled},
		{StatusSubmitted, StatusFailed},
		{StatusRunning, StatusFinished},
		{StatusRunning, StatusFailed},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	illegal := []struct{ from, to Status }{
		{StatusRunning, StatusCancelled}, // no mid-flight cancellation
		{StatusFinished, StatusRunning},
		{StatusFailed, StatusSubmitted},
		{StatusCancelled, StatusRunning},
		{StatusFinished, StatusFailed}, // at most one terminal status
		{StatusSubmitting, StatusRunning},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestRetentionEligibleDate(t *testing.T) {
	end := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

	public := challenge.Phase{IsPublic: true, EndDate: end}
	assert.Equal(t, end.AddDate(0, 0, 30), RetentionEligibleDate(public, completed))

	private := challenge.Phase{IsPublic: false, EndDate: end}
	assert.Equal(t, completed.AddDate(0, 0, 30), RetentionEligibleDate(private, completed))
}
