package bot

import (
	"math/rand"
	"time"

	"github.com/linyvhuo/webot/internal/config"
)

// QuestionSelector hands out the question of each round
type QuestionSelector struct {
	questions []string
	mode      config.QuestionMode
	rng       *rand.Rand
	next      int // cycle position
	last      int // index returned last, -1 before the first call
}

// NewQuestionSelector creates a selector. A zero seed seeds from the clock.
func NewQuestionSelector(questions []string, mode config.QuestionMode, seed int64) *QuestionSelector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	qs := make([]string, len(questions))
	copy(qs, questions)
	return &QuestionSelector{
		questions: qs,
		mode:      mode,
		rng:       rand.New(rand.NewSource(seed)),
		last:      -1,
	}
}

// Len returns the number of questions
func (s *QuestionSelector) Len() int {
	return len(s.questions)
}

// Next returns the next question. Cycle mode walks the list in order and wraps, random mode
// draws uniformly but never repeats the previous question when there is a choice.
func (s *QuestionSelector) Next() string {
	n := len(s.questions)
	if n == 0 {
		return ""
	}

	var i int
	switch s.mode {
	case config.QuestionModeRandom:
		if s.last < 0 || n == 1 {
			i = s.rng.Intn(n)
			break
		}
		// skip over the previous index
		i = s.rng.Intn(n - 1)
		if i >= s.last {
			i++
		}
	default:
		i = s.next
		s.next = (s.next + 1) % n
	}

	s.last = i
	return s.questions[i]
}
