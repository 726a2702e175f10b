// Package session owns the meeting and check-in state machines.
//
// Meeting: open -> concluded, concluded -> open (reopen), open -> cancelled
// (terminal). Check-in: check-in -> {absent, late, present} freely, and
// re-marking between those three any number of times.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rollcall/internal/docstore"
	"rollcall/internal/errs"
	"rollcall/internal/model"
)

// Service drives meetings and check-ins on top of the document store.
type Service struct {
	cols model.Collections
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(cols model.Collections, log zerolog.Logger) *Service {
	return &Service{
		cols: cols,
		log:  log.With().Str("component", "session").Logger(),
		now:  time.Now,
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateMeeting opens a new meeting for a class. A meeting with the same
// class and date is rejected; in a multi-writer deployment this guard is
// check-then-act and therefore best-effort, not a uniqueness guarantee.
func (s *Service) CreateMeeting(ctx context.Context, classKey, date, teacher string) (model.Meeting, error) {
	if classKey == "" {
		return model.Meeting{}, errs.NewValidation("classKey", "required")
	}
	if date == "" {
		return model.Meeting{}, errs.NewValidation("date", "required")
	}
	existing, err := s.cols.Meetings.Find(ctx, docstore.Condition{{
		"classKey": {docstore.OpEq: classKey},
		"date":     {docstore.OpEq: date},
	}})
	if err != nil {
		return model.Meeting{}, err
	}
	if len(existing) > 0 {
		return model.Meeting{}, errs.NewValidation("date", "a meeting for this class and time already exists")
	}

	// Check-ins are never embedded in the creation write; they live in
	// their own subcollection under the meeting.
	return s.cols.Meetings.Create(ctx, model.Meeting{
		ClassKey: classKey,
		Date:     date,
		Status:   model.MeetingOpen,
		Teacher:  teacher,
	})
}

// GetMeeting is a point read that fails with NotFound when absent.
func (s *Service) GetMeeting(ctx context.Context, meetingKey string) (model.Meeting, error) {
	m, err := s.cols.Meetings.Get(ctx, meetingKey)
	if err != nil {
		return model.Meeting{}, err
	}
	if m == nil {
		return model.Meeting{}, errs.NotFoundf("meeting %s", meetingKey)
	}
	return *m, nil
}

// ListMeetings loads all meetings for a class, cheapest view first: without
// forStudent each meeting carries only the denormalized check-in count
// (server-side count, children not loaded); with forStudent each meeting's
// check-in list is narrowed to that one student's record.
func (s *Service) ListMeetings(ctx context.Context, classKey, forStudent string) ([]model.Meeting, error) {
	meetings, err := s.cols.Meetings.Find(ctx, docstore.Condition{{
		"classKey": {docstore.OpEq: classKey},
	}})
	if err != nil {
		return nil, err
	}
	sortMeetings(meetings)

	for i := range meetings {
		checkIns := s.cols.CheckIns.Under(model.MeetingPath(meetings[i].Key))
		if forStudent != "" {
			rec, err := checkIns.Get(ctx, forStudent)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				meetings[i].CheckIns = []model.CheckIn{*rec}
			}
			continue
		}
		n, err := checkIns.Count(ctx, nil)
		if err != nil {
			return nil, err
		}
		meetings[i].CheckInCount = int(n)
	}
	return meetings, nil
}

// CheckIn records a student's arrival. The student key doubles as the
// document key, so a repeat call overwrites instead of duplicating; the
// first-seen check-in time, the marked-in stamp and the comment thread
// survive the overwrite. Status defaults to check-in when empty.
func (s *Service) CheckIn(ctx context.Context, meetingKey, studentKey string, status model.CheckInStatus) (model.CheckIn, error) {
	if studentKey == "" {
		return model.CheckIn{}, errs.NewValidation("student", "required")
	}
	meeting, err := s.GetMeeting(ctx, meetingKey)
	if err != nil {
		return model.CheckIn{}, err
	}
	if meeting.Status == model.MeetingCancelled {
		return model.CheckIn{}, errs.NewValidation("meeting", "meeting is cancelled")
	}
	if status == "" {
		status = model.CheckInPending
	}

	now := s.timestamp()
	checkIns := s.cols.CheckIns.Under(model.MeetingPath(meetingKey))
	rec := model.CheckIn{
		Key:         studentKey,
		Student:     studentKey,
		CheckInTime: now,
		Status:      status,
	}
	if prior, err := checkIns.Get(ctx, studentKey); err != nil {
		return model.CheckIn{}, err
	} else if prior != nil {
		rec.CheckInTime = prior.CheckInTime
		rec.MarkedInTime = prior.MarkedInTime
		rec.Comments = prior.Comments
	}
	created, err := checkIns.Create(ctx, rec)
	if err != nil {
		return model.CheckIn{}, err
	}

	// Advisory display data; its failure must not fail the check-in.
	s.bumpMeetingMarkers(ctx, meetingKey, now)
	return created, nil
}

func (s *Service) bumpMeetingMarkers(ctx context.Context, meetingKey, latest string) {
	n, err := s.cols.CheckIns.Under(model.MeetingPath(meetingKey)).Count(ctx, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("meeting", meetingKey).Msg("check-in count refresh failed")
		return
	}
	err = s.cols.Meetings.Update(ctx, meetingKey, docstore.Doc{
		"latestCheckIn": latest,
		"checkInCount":  n,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("meeting", meetingKey).Msg("meeting marker update failed")
	}
}

// UpdateCheckInStatus marks attendance. Leaving the check-in state for the
// first time stamps markedInTime; re-marking between absent/late/present
// does not re-stamp. Without a prior record one is synthesized directly in
// the target status.
func (s *Service) UpdateCheckInStatus(ctx context.Context, meetingKey, studentKey string, status model.CheckInStatus) (model.CheckIn, error) {
	meeting, err := s.GetMeeting(ctx, meetingKey)
	if err != nil {
		return model.CheckIn{}, err
	}
	if meeting.Status == model.MeetingCancelled {
		return model.CheckIn{}, errs.NewValidation("meeting", "meeting is cancelled")
	}
	now := s.timestamp()
	checkIns := s.cols.CheckIns.Under(model.MeetingPath(meetingKey))

	prior, err := checkIns.Get(ctx, studentKey)
	if err != nil {
		return model.CheckIn{}, err
	}
	if prior == nil {
		rec := model.CheckIn{
			Key:         studentKey,
			Student:     studentKey,
			CheckInTime: now,
			Status:      status,
		}
		if status != model.CheckInPending {
			rec.MarkedInTime = now
		}
		return checkIns.Create(ctx, rec)
	}

	partial := docstore.Doc{"status": status}
	if prior.Status == model.CheckInPending && status != model.CheckInPending {
		partial["markedInTime"] = now
	}
	if err := checkIns.Update(ctx, studentKey, partial); err != nil {
		return model.CheckIn{}, err
	}
	updated := *prior
	updated.Status = status
	if ts, ok := partial["markedInTime"].(string); ok {
		updated.MarkedInTime = ts
	}
	return updated, nil
}

// AddCheckInComment appends to a check-in's comment thread.
func (s *Service) AddCheckInComment(ctx context.Context, meetingKey, studentKey, author, message string) (model.CheckIn, error) {
	if message == "" {
		return model.CheckIn{}, errs.NewValidation("message", "required")
	}
	checkIns := s.cols.CheckIns.Under(model.MeetingPath(meetingKey))
	rec, err := checkIns.Get(ctx, studentKey)
	if err != nil {
		return model.CheckIn{}, err
	}
	if rec == nil {
		return model.CheckIn{}, errs.NotFoundf("check-in for student %s in meeting %s", studentKey, meetingKey)
	}
	rec.Comments = append(rec.Comments, model.Comment{
		Author:  author,
		Message: message,
		Date:    s.timestamp(),
	})
	if err := checkIns.Update(ctx, studentKey, docstore.Doc{"comments": rec.Comments}); err != nil {
		return model.CheckIn{}, err
	}
	return *rec, nil
}

// ConcludeMeeting finalizes attendance. Check-in records are left exactly as
// last written.
func (s *Service) ConcludeMeeting(ctx context.Context, meetingKey string) error {
	return s.transition(ctx, meetingKey, model.MeetingConcluded, model.MeetingOpen)
}

// ReopenMeeting moves a concluded meeting back to open.
func (s *Service) ReopenMeeting(ctx context.Context, meetingKey string) error {
	return s.transition(ctx, meetingKey, model.MeetingOpen, model.MeetingConcluded)
}

// CancelMeeting is administrative and terminal; only an open meeting can be
// cancelled.
func (s *Service) CancelMeeting(ctx context.Context, meetingKey string) error {
	return s.transition(ctx, meetingKey, model.MeetingCancelled, model.MeetingOpen)
}

func (s *Service) transition(ctx context.Context, meetingKey string, to, from model.MeetingStatus) error {
	meeting, err := s.GetMeeting(ctx, meetingKey)
	if err != nil {
		return err
	}
	if meeting.Status == to {
		return nil
	}
	if meeting.Status != from {
		return errs.NewValidation("status", string(meeting.Status)+" meeting cannot become "+string(to))
	}
	return s.cols.Meetings.Update(ctx, meetingKey, docstore.Doc{"status": to})
}

// DeleteMeeting removes a meeting and its check-in children. The cascade is
// the store contract from the ownership model, not something the database
// does on its own.
func (s *Service) DeleteMeeting(ctx context.Context, meetingKey string) error {
	if _, err := s.GetMeeting(ctx, meetingKey); err != nil {
		return err
	}
	checkIns := s.cols.CheckIns.Under(model.MeetingPath(meetingKey))
	children, err := checkIns.Find(ctx, nil)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := checkIns.Delete(ctx, child.Key); err != nil {
			return err
		}
	}
	return s.cols.Meetings.Delete(ctx, meetingKey)
}

func sortMeetings(meetings []model.Meeting) {
	sort.Slice(meetings, func(i, j int) bool {
		if meetings[i].Date != meetings[j].Date {
			return meetings[i].Date < meetings[j].Date
		}
		return meetings[i].Key < meetings[j].Key
	})
}
