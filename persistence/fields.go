package persistence

import (
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/photoguess/models"
)

// Fields is a partial document update keyed by field name.
// A nil value clears a nullable field.
type Fields map[string]interface{}

// Room fields.
const (
	FieldStatus           = "status"
	FieldTimerEndsAt      = "timerEndsAt"
	FieldTimerStartedAt   = "timerStartedAt"
	FieldStageStartedAt   = "stageStartedAt"
	FieldResultsIndex     = "resultsIndex"
	FieldResultsAppliedAt = "resultsAppliedAt"
	FieldCompletedAt      = "completedAt"
	FieldRound            = "round"
	FieldUpdatedAt        = "updatedAt"
)

// User fields.
const (
	FieldName       = "name"
	FieldAvatarSeed = "avatarSeed"
	FieldPhotoURL   = "photoURL"
	FieldReady      = "ready"
	FieldReadyAt    = "readyAt"
	FieldConnected  = "connected"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock when the write is applied.
// Database-backed stores use the database clock.
var ServerTimestamp = serverTimestamp{}

var roomColumns = map[string]string{
	FieldStatus:           "status",
	FieldTimerEndsAt:      "timer_ends_at",
	FieldTimerStartedAt:   "timer_started_at",
	FieldStageStartedAt:   "stage_started_at",
	FieldResultsIndex:     "results_index",
	FieldResultsAppliedAt: "results_applied_at",
	FieldCompletedAt:      "completed_at",
	FieldRound:            "round",
	FieldUpdatedAt:        "updated_at",
}

var userColumns = map[string]string{
	FieldName:       "name",
	FieldAvatarSeed: "avatar_seed",
	FieldPhotoURL:   "photo_url",
	FieldReady:      "ready",
	FieldReadyAt:    "ready_at",
	FieldConnected:  "connected",
	FieldUpdatedAt:  "updated_at",
}

// resolve substitutes ServerTimestamp and checks every key against known.
func (f Fields) resolve(known map[string]string, now time.Time) (Fields, error) {
	out := make(Fields, len(f))
	for k, v := range f {
		if _, ok := known[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
		if _, ok := v.(serverTimestamp); ok {
			v = now
		}
		out[k] = v
	}
	return out, nil
}

// columns maps resolved fields onto table columns.
func (f Fields) columns(known map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		if t, ok := v.(*time.Time); ok && t == nil {
			v = nil
		}
		if s, ok := v.(models.Status); ok {
			v = string(s)
		}
		out[known[k]] = v
	}
	return out
}

func applyRoomFields(r *models.Room, f Fields) error {
	for k, v := range f {
		switch k {
		case FieldStatus:
			s, err := statusValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			r.Status = s
		case FieldTimerEndsAt:
			t, err := timeValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			r.TimerEndsAt = t
		case FieldTimerStartedAt:
			t, err := timeValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			r.TimerStartedAt = t
		case FieldStageStartedAt:
			t, err := timeValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			r.StageStartedAt = t
		case FieldResultsAppliedAt:
			t, err := timeValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			r.ResultsAppliedAt = t
		case FieldCompletedAt:
			t, err := timeValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			r.CompletedAt = t
		case FieldUpdatedAt:
			t, err := timeValue(v)
			if err != nil || t == nil {
				return fmt.Errorf("%w: %s", ErrInvalidValue, k)
			}
			r.UpdatedAt = *t
		case FieldResultsIndex:
			n, ok := v.(int)
			if !ok {
				return fmt.Errorf("%w: %s", ErrInvalidValue, k)
			}
			r.ResultsIndex = n
		case FieldRound:
			n, ok := v.(int)
			if !ok {
				return fmt.Errorf("%w: %s", ErrInvalidValue, k)
			}
			r.Round = n
		default:
			return fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
	}
	return nil
}

func applyUserFields(u *models.User, f Fields) error {
	for k, v := range f {
		switch k {
		case FieldName, FieldAvatarSeed, FieldPhotoURL:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: %s", ErrInvalidValue, k)
			}
			switch k {
			case FieldName:
				u.Name = s
			case FieldAvatarSeed:
				u.AvatarSeed = s
			default:
				u.PhotoURL = s
			}
		case FieldReady, FieldConnected:
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("%w: %s", ErrInvalidValue, k)
			}
			if k == FieldReady {
				u.Ready = b
			} else {
				u.Connected = b
			}
		case FieldReadyAt:
			t, err := timeValue(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, k)
			}
			u.ReadyAt = t
		case FieldUpdatedAt:
			// users carry no updatedAt in the model
		default:
			return fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
	}
	return nil
}

func statusValue(v interface{}) (models.Status, error) {
	var s models.Status
	switch x := v.(type) {
	case models.Status:
		s = x
	case string:
		s = models.Status(x)
	default:
		return "", ErrInvalidValue
	}
	if !s.Valid() {
		return "", ErrInvalidValue
	}
	return s, nil
}

func timeValue(v interface{}) (*time.Time, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &x, nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		t := *x
		return &t, nil
	}
	return nil, ErrInvalidValue
}

// clock hands out strictly increasing timestamps so that creation order
// survives identical wall-clock readings.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

func (c *clock) Now() time.Time {
	return c.Advance(c.now())
}

// Advance returns t, or a microsecond past the last timestamp handed out when
// t is not after it.
func (c *clock) Advance(t time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = t.UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
