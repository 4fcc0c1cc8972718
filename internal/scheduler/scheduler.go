package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
)

// soonLead is how long before the fire time the "soon" heads-up goes out.
// Schedules shorter than the lead skip the heads-up.
const soonLead = time.Minute

type key struct {
	dmID     int64
	username string
}

type entry struct {
	view   domain.ScheduledMessage
	cancel context.CancelFunc
}

// Callbacks are invoked by a scheduled task as it progresses. Send inserts
// the message and returns its id; ok=false aborts the task (and any
// self-destruct that would follow).
type Callbacks struct {
	Soon   func(scheduleID int)
	Send   func(scheduleID int) (messageID int64, ok bool)
	Delete func(messageID int64)
}

// Scheduler tracks pending scheduled messages per (dm, user) and runs
// their timers. Schedule ids count up from 1 within each (dm, user) pair
// and are reused once higher entries fire or are cancelled.
type Scheduler struct {
	tasks *clock.TaskSet
	log   zerolog.Logger
	lead  time.Duration

	mu      sync.Mutex
	pending map[key]map[int]entry
}

func New(tasks *clock.TaskSet, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks:   tasks,
		log:     log,
		lead:    soonLead,
		pending: make(map[key]map[int]entry),
	}
}

// Schedule registers a message to be sent after the schedule delay and
// returns its schedule id. deleteAfter > 0 self-destructs the message that
// long after it was sent. The registry entry is removed when the timer
// fires or the schedule is cancelled; a dropped connection does not cancel
// it.
func (s *Scheduler) Schedule(ctx context.Context, dmID int64, username string, view domain.ScheduledMessage, schedule, deleteAfter time.Duration, cb Callbacks) int {
	k := key{dmID: dmID, username: username}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.pending[k]
	if !ok {
		byID = make(map[int]entry)
		s.pending[k] = byID
	}
	id := 1
	for existing := range byID {
		if existing >= id {
			id = existing + 1
		}
	}

	pre := schedule - s.lead
	if pre < 0 {
		pre = 0
	}
	post := schedule - pre

	cancel := s.tasks.Go(ctx, func(ctx context.Context) {
		if pre > 0 {
			if !clock.Sleep(ctx, pre) {
				return
			}
			if cb.Soon != nil {
				cb.Soon(id)
			}
		}
		if !clock.Sleep(ctx, post) {
			return
		}
		s.remove(k, id)

		msgID, ok := cb.Send(id)
		if !ok {
			s.log.Warn().Int64("dm_id", dmID).Str("username", username).Int("schedule_id", id).
				Msg("scheduled message failed to send")
			return
		}
		if deleteAfter > 0 {
			if !clock.Sleep(ctx, deleteAfter) {
				return
			}
			cb.Delete(msgID)
		}
	})
	byID[id] = entry{view: view, cancel: cancel}
	return id
}

// Cancel stops a pending schedule and removes it. Reports whether the
// (dm, user, id) entry existed.
func (s *Scheduler) Cancel(dmID int64, username string, scheduleID int) bool {
	k := key{dmID: dmID, username: username}
	s.mu.Lock()
	e, ok := s.pending[k][scheduleID]
	if ok {
		delete(s.pending[k], scheduleID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Entries returns the user's pending schedules for the DM, keyed by
// schedule id.
func (s *Scheduler) Entries(dmID int64, username string) map[int]domain.ScheduledMessage {
	out := make(map[int]domain.ScheduledMessage)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.pending[key{dmID: dmID, username: username}] {
		out[id] = e.view
	}
	return out
}

func (s *Scheduler) remove(k key, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending[k], id)
}
