package reveal

import "time"

// Scheduler runs callbacks later. timer.TimerManager satisfies it.
type Scheduler interface {
	AddTimer(delay time.Duration, interval time.Duration, callback func()) int64
	RemoveTimer(timerId int64)
}

// Event is a timer-driven step of the sequencer. Events of a superseded photo
// carry an old generation and are ignored.
type Event struct {
	Generation uint64
	Phase      Phase
	Visible    int
}

// State is the sequencer's current position.
type State struct {
	PhotoID string `json:"photoId"`
	Phase   Phase  `json:"phase"`
	Visible int    `json:"visible"`
}

// Sequencer walks one photo through photo, uploader, guesses and done. Its
// methods must be called from a single goroutine, the owner's event loop,
// which also drains Events and feeds them back through Handle.
type Sequencer struct {
	sched  Scheduler
	events chan Event
	done   chan struct{}

	gen    uint64
	state  State
	timers []int64
}

func NewSequencer(sched Scheduler) *Sequencer {
	return &Sequencer{
		sched:  sched,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
		state:  State{Phase: PhaseIdle},
	}
}

// Events delivers timer steps for the owner to Handle.
func (s *Sequencer) Events() <-chan Event {
	return s.events
}

func (s *Sequencer) State() State {
	return s.state
}

// Show starts the reveal of photoID with the given number of correct
// guessers. Showing the photo already being revealed changes nothing.
func (s *Sequencer) Show(photoID string, correctGuessers int) {
	if photoID == "" {
		s.Reset()
		return
	}
	if s.state.PhotoID == photoID && s.state.Phase != PhaseIdle {
		return
	}
	s.cancel()
	s.state = State{PhotoID: photoID, Phase: PhasePhoto}
	gen := s.gen

	s.schedule(UploaderDelay, Event{Generation: gen, Phase: PhaseUploader})
	s.schedule(GuessesDelay, Event{Generation: gen, Phase: PhaseGuesses})
	for i := 0; i < correctGuessers; i++ {
		s.schedule(GuessesDelay+time.Duration(i+1)*GuesserInterval, Event{Generation: gen, Phase: PhaseGuesses, Visible: i + 1})
	}
	doneDelay := GuessesDelay + DoneWithoutGuessers
	if correctGuessers > 0 {
		doneDelay = GuessesDelay + time.Duration(correctGuessers)*GuesserInterval + DoneAfterGuessers
	}
	s.schedule(doneDelay, Event{Generation: gen, Phase: PhaseDone, Visible: correctGuessers})
}

// Reset cancels pending steps and returns to idle.
func (s *Sequencer) Reset() {
	s.cancel()
	s.state = State{Phase: PhaseIdle}
}

// Handle applies ev. It reports whether the state changed.
func (s *Sequencer) Handle(ev Event) bool {
	if ev.Generation != s.gen || s.state.Phase == PhaseIdle {
		return false
	}
	before := s.state
	// A guesser step only ever adds to the visible count; it never moves the
	// phase back from done.
	if ev.Visible > s.state.Visible {
		s.state.Visible = ev.Visible
	}
	if phaseRank(ev.Phase) > phaseRank(s.state.Phase) {
		s.state.Phase = ev.Phase
	}
	return s.state != before
}

// Close cancels pending steps. Timer callbacks that already fired are dropped.
func (s *Sequencer) Close() {
	s.cancel()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Sequencer) cancel() {
	for _, id := range s.timers {
		s.sched.RemoveTimer(id)
	}
	s.timers = s.timers[:0]
	s.gen++
}

func (s *Sequencer) schedule(delay time.Duration, ev Event) {
	id := s.sched.AddTimer(delay, 0, func() {
		select {
		case s.events <- ev:
		case <-s.done:
		}
	})
	s.timers = append(s.timers, id)
}

func phaseRank(p Phase) int {
	switch p {
	case PhasePhoto:
		return 1
	case PhaseUploader:
		return 2
	case PhaseGuesses:
		return 3
	case PhaseDone:
		return 4
	}
	return 0
}
