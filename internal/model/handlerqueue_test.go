package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStep struct {
	name  string
	flags StepFlags
	runs  *int
}

func (f *fakeStep) Name() string       { return f.name }
func (f *fakeStep) Flags() StepFlags   { return f.flags }
func (f *fakeStep) Matches(*Request) bool { return true }
func (f *fakeStep) Execute(*Client, *Request, *Response) Outcome {
	*f.runs++
	return OutcomeOK
}

// TestReauthScopedToAuthStep verifies that ReauthRequested only
// re-admits the "auth" step on a reprocessing pass, not every
// use-once step (a rewrite that requests reauth must not also cause
// itself, or any other use-once step, to re-run).
func TestReauthScopedToAuthStep(t *testing.T) {
	authRuns, rewriteRuns := 0, 0
	auth := &fakeStep{name: "auth", flags: StepFlags{UseOnce: true}, runs: &authRuns}
	rewrite := &fakeStep{name: "rewrite", flags: StepFlags{UseOnce: true}, runs: &rewriteRuns}

	q := NewHandlerQueue([]Step{auth, rewrite})
	req := NewRequest()

	// First pass: both run once.
	for {
		s := q.Next(req)
		if s == nil {
			break
		}
	}
	assert.Equal(t, 1, authRuns)
	assert.Equal(t, 1, rewriteRuns)

	// Simulate rewrite flagging reprocessing + reauth, then rewind.
	req.Reprocessing = true
	req.ReauthRequested = true
	q.RewindForReprocessing()

	for {
		s := q.Next(req)
		if s == nil {
			break
		}
	}

	assert.Equal(t, 2, authRuns, "auth should re-run once on the reauth pass")
	assert.Equal(t, 1, rewriteRuns, "rewrite must not re-run just because ReauthRequested is set")
}
