// Package remarks classifies upstream service notes and summarises them per
// journey.
//
// A remark is either free text from the journey planner (type, code, summary,
// text) or a GTFS-Realtime alert carrying cause/effect/severity enums. Both
// are mapped onto one Category and one Severity:
//
//	info < warning < disruption < critical
//
// The Summary of a journey's remarks decides whether the journey is still
// worth showing: any critical remark, or more than two disruption-level
// remarks, excludes it.
package remarks
