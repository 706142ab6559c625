package domain

import "time"

// Review represents a user's single textual review of a song. At most
// one review exists per (subject, author); writing again replaces it.
type Review struct {
	SubjectID string    `json:"subject_id"`
	AuthorID  string    `json:"author_id"`
	Rating    float64   `json:"rating"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
