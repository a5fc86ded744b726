package model

import "time"

// Remark is an upstream service note attached to a journey.
type Remark struct {
	Type    string `json:"type,omitempty"` // hint|warning|status
	Code    string `json:"code,omitempty"`
	Summary string `json:"summary,omitempty"`
	Text    string `json:"text,omitempty"`
	// Source is "upstream" for journey remarks and "gtfsrt" for alert remarks.
	Source string `json:"source,omitempty"`
	// Cause, Effect and Severity carry GTFS-RT alert enums when present.
	Cause    string `json:"cause,omitempty"`
	Effect   string `json:"effect,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// JourneyOption is a single departure candidate for a route.
type JourneyOption struct {
	Departure       time.Time `json:"departure"`
	Arrival         time.Time `json:"arrival"`
	DurationMinutes int       `json:"durationMinutes"`
	LineName        string    `json:"lineName,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	DelayMinutes    *int      `json:"delayMinutes,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Remarks         []Remark  `json:"remarks,omitempty"`
	RefreshToken    string    `json:"refreshToken,omitempty"`
}

// Delay returns the delay in minutes, treating a missing value as zero.
func (j JourneyOption) Delay() int {
	if j.DelayMinutes == nil {
		return 0
	}
	return *j.DelayMinutes
}

// WithRemarks returns a copy of j with extra remarks appended. The receiver's
// slices are never shared with the copy.
func (j JourneyOption) WithRemarks(extra ...Remark) JourneyOption {
	out := j
	out.Remarks = make([]Remark, 0, len(j.Remarks)+len(extra))
	out.Remarks = append(out.Remarks, j.Remarks...)
	out.Remarks = append(out.Remarks, extra...)
	if j.Warnings != nil {
		out.Warnings = append([]string(nil), j.Warnings...)
	}
	return out
}

// IntPtr is a helper for optional integer fields.
func IntPtr(v int) *int { return &v }
