// Package models defines server-side data models persisted in the database
// or returned by external collaborators.
package models

import "time"

// Photo is one user submission tracked end to end (the PhotoRecord).
//
// Paid moves false→true exactly once. OutputRef and PreviewRef are set
// together, at most once; PreviewRef names a watermarked derivative and is
// never the same object as OutputRef.
type Photo struct {
	ID                string
	Paid              bool
	PaidAt            *time.Time
	ContactEmail      string
	InputRef          string
	OutputRef         string
	PreviewRef        string
	CheckoutSessionID string
	// TransformFallback is true when OutputRef is a copy of the input.
	TransformFallback bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasOutput reports whether the transform step has stored its result.
func (p *Photo) HasOutput() bool {
	return p.OutputRef != ""
}
