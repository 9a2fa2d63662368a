// Package session persists analysis run state for pause/resume.
//
// One JSON record per session, written via temp-file-then-rename so a
// reader never observes a half-written state. All mutating operations on a
// session id are serialized by a per-id lock.
package session
