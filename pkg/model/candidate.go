package model

import "time"

// Point is a pixel coordinate within a frame
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Candidate is a single text recognition result delivered by the OCR adapter.
type Candidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Region     []Point `json:"region,omitempty"`
}

// Frame carries the candidates recognized within one captured video frame.
// Time is the capture time announced by the recognizer, zero if the stream has none.
type Frame struct {
	Seq        int64
	Time       time.Time
	Candidates []Candidate
}
