package incident

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var ErrLessonNotFound = errors.New("lesson not found")

// Lesson captures a post-incident retrospective.
type Lesson struct {
	ID              string    `json:"id"`
	IncidentID      string    `json:"incident_id"`
	WentWell        []string  `json:"went_well,omitempty"`
	WentWrong       []string  `json:"went_wrong,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	RecordedBy      string    `json:"recorded_by"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// LessonRecorder stores retrospectives and rolls their recommendations
// up for playbook authors.
type LessonRecorder struct {
	mu      sync.RWMutex
	lessons map[string]*Lesson
	order   []string
	clock   func() time.Time
}

// NewLessonRecorder returns an empty recorder.
func NewLessonRecorder() *LessonRecorder {
	return &LessonRecorder{
		lessons: make(map[string]*Lesson),
		clock:   time.Now,
	}
}

// WithClock overrides the time source.
func (r *LessonRecorder) WithClock(clock func() time.Time) *LessonRecorder {
	r.clock = clock
	return r
}

// RecordLesson stores a retrospective. At least one observation across
// the three lists is required.
func (r *LessonRecorder) RecordLesson(incidentID string, wentWell, wentWrong, recommendations []string, recordedBy string) (*Lesson, error) {
	if incidentID == "" {
		return nil, errors.New("incident ID is required")
	}
	if recordedBy == "" {
		return nil, errors.New("lesson recorder name is required")
	}
	well := uniqueStrings(wentWell)
	wrong := uniqueStrings(wentWrong)
	recs := uniqueStrings(recommendations)
	if len(well)+len(wrong)+len(recs) == 0 {
		return nil, errors.New("lesson needs at least one observation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lesson := &Lesson{
		ID:              ident.New(ident.PrefixLesson),
		IncidentID:      incidentID,
		WentWell:        well,
		WentWrong:       wrong,
		Recommendations: recs,
		RecordedBy:      recordedBy,
		RecordedAt:      r.clock(),
	}
	r.lessons[lesson.ID] = lesson
	r.order = append(r.order, lesson.ID)
	return lesson, nil
}

// Lesson returns a retrospective by ID.
func (r *LessonRecorder) Lesson(id string) (*Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lesson, ok := r.lessons[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrLessonNotFound)
	}
	return lesson, nil
}

// LessonsFor lists an incident's retrospectives in recording order.
func (r *LessonRecorder) LessonsFor(incidentID string) []*Lesson {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Lesson
	for _, id := range r.order {
		if lesson, ok := r.lessons[id]; ok && lesson.IncidentID == incidentID {
			out = append(out, lesson)
		}
	}
	return out
}

// Recommendations aggregates every distinct recommendation in recording
// order.
func (r *LessonRecorder) Recommendations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		lesson, ok := r.lessons[id]
		if !ok {
			continue
		}
		for _, rec := range lesson.Recommendations {
			out = appendUnique(out, rec)
		}
	}
	return out
}

// Stats reports recorder counters.
func (r *LessonRecorder) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := 0
	for _, lesson := range r.lessons {
		recs += len(lesson.Recommendations)
	}
	return map[string]int{
		"lessons":         len(r.lessons),
		"recommendations": recs,
	}
}
