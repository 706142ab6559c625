package domain

import (
	"fmt"
	"math"
	"time"
)

// Rating values run from 1.0 to 5.0 in half-star steps, matching the
// star widget in the mobile clients.
const (
	RatingMin  = 1.0
	RatingMax  = 5.0
	RatingStep = 0.5
)

// RatingEvent represents a single user's rating for a song
type RatingEvent struct {
	SubjectID string    `json:"subject_id"`
	RaterID   string    `json:"rater_id"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidRatingValue reports whether v is one of the nine half-step
// values 1.0, 1.5, ..., 5.0
func ValidRatingValue(v float64) bool {
	if v < RatingMin || v > RatingMax {
		return false
	}
	doubled := v * 2
	return doubled == math.Trunc(doubled)
}

// RatingBucket maps a raw value to its histogram bucket label,
// e.g. 4.3 -> "4.5". Applied at tally time only; the stored event
// keeps the original value.
func RatingBucket(v float64) string {
	return fmt.Sprintf("%.1f", math.Round(v*2)/2)
}

// RatingBuckets returns the fixed bucket labels in ascending order
func RatingBuckets() []string {
	labels := make([]string, 0, 9)
	for v := RatingMin; v <= RatingMax; v += RatingStep {
		labels = append(labels, fmt.Sprintf("%.1f", v))
	}
	return labels
}

// AggregateRating holds the derived statistics over all current
// rating events for one subject
type AggregateRating struct {
	SubjectID string         `json:"subject_id"`
	Sum       float64        `json:"sum"`
	Count     int            `json:"count"`
	Histogram map[string]int `json:"histogram"`
}

// Average returns sum/count with full precision, 0 when no ratings
// exist. Rounding is a presentation concern.
func (a AggregateRating) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// AggregateFromEvents recomputes the aggregate from the full current
// event set. Incremental maintenance elsewhere must always equal this.
func AggregateFromEvents(subjectID string, events []RatingEvent) AggregateRating {
	agg := AggregateRating{
		SubjectID: subjectID,
		Histogram: make(map[string]int, 9),
	}
	for _, label := range RatingBuckets() {
		agg.Histogram[label] = 0
	}
	for _, ev := range events {
		agg.Sum += ev.Value
		agg.Count++
		agg.Histogram[RatingBucket(ev.Value)]++
	}
	return agg
}
