package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runnerr0/pagelog/internal/kvstore"
)

// Settings keys and experiment parameters used by Gate.
const (
	KeyLoggedOutDismissedLogin = "activityTabUserDismissLogin"
	KeyTempDismissedLogin      = "activityTabTempAccountUserDismissLogin"
	KeyHasSeenActivityTab      = "hasSeenActivityTab"
	KeyHasSeenSurvey           = "hasSeenActivityTabSurvey"
	KeyVisitCount              = "activityTabVisitCount"
	KeyDevShowActivityTab      = "developerSettingsShowActivityTab"
	KeyDevForceControl         = "developerSettingsForceActivityTabControl"
	KeyDevForceExperiment      = "developerSettingsForceActivityTabExperiment"
	ActivityTabExperiment      = "activity_tab"
	ActivityTabExperimentShare = 50
	SurveyMinimumVisits        = 3
)

var (
	// ExperimentStart is when activity tab assignment opens.
	ExperimentStart = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	// ExperimentEnd is when new assignments stop.
	ExperimentEnd = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	// SurveyEnd is the last moment the survey is offered.
	SurveyEnd = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
)

var (
	ErrMissingExperiments    = errors.New("activity: no experiment store")
	ErrUnexpectedAssignment  = errors.New("activity: unexpected experiment bucket")
	ErrBeforeStartDate       = errors.New("activity: experiment has not started")
	ErrPastAssignmentEndDate = errors.New("activity: experiment assignment has ended")
)

// LoginState is the account state the login prompt depends on.
type LoginState int

const (
	LoggedOut LoginState = iota
	TempAccount
	LoggedIn
)

// Assignment is the activity tab experiment arm.
type Assignment int

const (
	AssignmentUnknown Assignment = -1
	AssignmentControl Assignment = 0
	AssignmentTest    Assignment = 1
)

func (a Assignment) String() string {
	switch a {
	case AssignmentControl:
		return "control"
	case AssignmentTest:
		return "activity_tab"
	}
	return "unknown"
}

// Gate decides when the activity tab, its login prompt and its survey
// are shown. State lives in a kvstore.Store.
type Gate struct {
	kv          *kvstore.Store
	experiments *kvstore.Experiments
	now         func() time.Time

	mu    sync.Mutex
	cache *Assignment
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides time.Now.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithExperiments sets the experiment registry. A nil registry makes new
// assignments fail with ErrMissingExperiments.
func WithExperiments(e *kvstore.Experiments) GateOption {
	return func(g *Gate) { g.experiments = e }
}

// NewGate creates a Gate over kv. By default experiments are assigned
// through kvstore.NewExperiments(kv).
func NewGate(kv *kvstore.Store, opts ...GateOption) *Gate {
	g := &Gate{
		kv:          kv,
		experiments: kvstore.NewExperiments(kv),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) flag(ctx context.Context, key string) bool {
	return kvstore.LoadOrDefault(ctx, g.kv, key, false)
}

// SetFlag stores a boolean setting.
func (g *Gate) SetFlag(ctx context.Context, key string, v bool) error {
	return g.kv.Save(ctx, key, v)
}

// HasSeenActivityTab reports whether the tab was ever opened.
func (g *Gate) HasSeenActivityTab(ctx context.Context) bool {
	return g.flag(ctx, KeyHasSeenActivityTab)
}

// MarkActivityTabSeen records that the tab was opened.
func (g *Gate) MarkActivityTabSeen(ctx context.Context) error {
	return g.SetFlag(ctx, KeyHasSeenActivityTab, true)
}

// ShouldShowLoginPrompt reports whether the login prompt is due for
// state. Logged in users never see it; the other states see it until
// they dismiss it.
func (g *Gate) ShouldShowLoginPrompt(ctx context.Context, state LoginState) bool {
	switch state {
	case LoggedIn:
		return false
	case TempAccount:
		return !g.flag(ctx, KeyTempDismissedLogin)
	}
	return !g.flag(ctx, KeyLoggedOutDismissedLogin)
}

// DismissLoginPrompt records that the prompt was dismissed in state.
func (g *Gate) DismissLoginPrompt(ctx context.Context, state LoginState) error {
	switch state {
	case LoggedIn:
		return nil
	case TempAccount:
		return g.SetFlag(ctx, KeyTempDismissedLogin, true)
	}
	return g.SetFlag(ctx, KeyLoggedOutDismissedLogin, true)
}

// VisitCount returns how often the tab was visited.
func (g *Gate) VisitCount(ctx context.Context) int {
	return kvstore.LoadOrDefault(ctx, g.kv, KeyVisitCount, 0)
}

// RecordVisit increments the visit counter and returns the new count.
func (g *Gate) RecordVisit(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.VisitCount(ctx) + 1
	if err := g.kv.Save(ctx, KeyVisitCount, n); err != nil {
		return 0, err
	}
	return n, nil
}

// ShouldShowSurvey reports whether the survey is due: enough visits, not
// shown before and SurveyEnd not passed.
func (g *Gate) ShouldShowSurvey(ctx context.Context) bool {
	if g.VisitCount(ctx) < SurveyMinimumVisits {
		return false
	}
	if g.flag(ctx, KeyHasSeenSurvey) {
		return false
	}
	return !g.now().After(SurveyEnd)
}

// MarkSurveySeen records that the survey was shown.
func (g *Gate) MarkSurveySeen(ctx context.Context) error {
	return g.SetFlag(ctx, KeyHasSeenSurvey, true)
}

func (g *Gate) started() bool { return !ExperimentStart.After(g.now()) }
func (g *Gate) ended() bool   { return !ExperimentEnd.After(g.now()) }

// Assignment returns the activity tab experiment arm, assigning one if
// needed. Developer overrides win; otherwise assignment requires the
// experiment to have started (or the developer show setting), returns
// any existing bucket, and only assigns new buckets before the end date.
func (g *Gate) Assignment(ctx context.Context) (Assignment, error) {
	if g.flag(ctx, KeyDevForceControl) {
		return AssignmentControl, nil
	}
	if g.flag(ctx, KeyDevForceExperiment) {
		return AssignmentTest, nil
	}
	dev := g.flag(ctx, KeyDevShowActivityTab)
	if !dev && !g.started() {
		return AssignmentUnknown, ErrBeforeStartDate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cache != nil {
		return *g.cache, nil
	}
	if g.experiments == nil {
		return AssignmentUnknown, ErrMissingExperiments
	}

	bucket, ok, err := g.experiments.BucketFor(ctx, ActivityTabExperiment)
	if err != nil {
		return AssignmentUnknown, fmt.Errorf("load assignment: %w", err)
	}
	if ok {
		a := assignmentFor(bucket)
		g.cache = &a
		return a, nil
	}
	if !dev && g.ended() {
		return AssignmentUnknown, ErrPastAssignmentEndDate
	}

	bucket, err = g.experiments.DetermineBucket(ctx, ActivityTabExperiment, ActivityTabExperimentShare)
	if err != nil {
		return AssignmentUnknown, fmt.Errorf("assign experiment: %w", err)
	}
	a := assignmentFor(bucket)
	if a == AssignmentUnknown {
		return a, fmt.Errorf("%w: %q", ErrUnexpectedAssignment, bucket)
	}
	g.cache = &a
	return a, nil
}

// IsAssigned reports whether an assignment has been stored.
func (g *Gate) IsAssigned(ctx context.Context) bool {
	if g.experiments == nil {
		return false
	}
	_, ok, err := g.experiments.BucketFor(ctx, ActivityTabExperiment)
	return err == nil && ok
}

func assignmentFor(b kvstore.Bucket) Assignment {
	switch b {
	case kvstore.BucketControl:
		return AssignmentControl
	case kvstore.BucketTest:
		return AssignmentTest
	}
	return AssignmentUnknown
}
