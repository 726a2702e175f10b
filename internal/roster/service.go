// Package roster keeps a class's membership (the class document plus its
// teachers/enrolled subcollections) and each user's class-keeping index
// mutually consistent. The two aggregates are written independently, never
// in one transaction: every operation here is idempotent set arithmetic, and
// Repair is the explicit reconciliation pass for when one write was lost.
package roster

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"rollcall/internal/docstore"
	"rollcall/internal/errs"
	"rollcall/internal/model"
)

// RepairEnqueuer hands a user's index off for asynchronous reconciliation.
type RepairEnqueuer interface {
	EnqueueRepair(ctx context.Context, userKey string) error
}

// Service is the roster reconciler.
type Service struct {
	cols    model.Collections
	repairs RepairEnqueuer
	log     zerolog.Logger
}

// NewService builds the reconciler. repairs may be nil; repair jobs are
// advisory and skipped without one.
func NewService(cols model.Collections, repairs RepairEnqueuer, log zerolog.Logger) *Service {
	return &Service{
		cols:    cols,
		repairs: repairs,
		log:     log.With().Str("component", "roster").Logger(),
	}
}

// CreateClass persists a new class after probing that its classCode is not
// in use by another active class. Like the duplicate-meeting guard, the
// probe is check-then-act: best effort under concurrent writers.
func (s *Service) CreateClass(ctx context.Context, cls model.Class) (model.Class, error) {
	if cls.Name == "" {
		return model.Class{}, errs.NewValidation("name", "required")
	}
	if cls.ClassCode == "" {
		return model.Class{}, errs.NewValidation("classCode", "required")
	}
	matches, err := s.cols.Classes.Find(ctx, docstore.Condition{{
		"classCode": {docstore.OpEq: cls.ClassCode},
	}})
	if err != nil {
		return model.Class{}, err
	}
	for _, match := range matches {
		if !match.Archived && match.Key != cls.Key {
			return model.Class{}, errs.NewValidation("classCode", "already in use")
		}
	}
	return s.cols.Classes.Create(ctx, cls)
}

// Enroll adds a student to a class roster and mirrors the class key into the
// student's keeping index. Re-enrolling an already-present student is a
// no-op on both sides.
func (s *Service) Enroll(ctx context.Context, classKey string, student model.User) error {
	return s.admit(ctx, classKey, student, s.cols.Enrolled, func(k *model.ClassKeeping) {
		k.Enrolled = addToSet(k.Enrolled, classKey)
		k.ArchivedEnrolled = removeFromSet(k.ArchivedEnrolled, classKey)
	}, true)
}

// Join is the symmetric operation for the teaching relationship.
func (s *Service) Join(ctx context.Context, classKey string, teacher model.User) error {
	return s.admit(ctx, classKey, teacher, s.cols.Teachers, func(k *model.ClassKeeping) {
		k.Teaching = addToSet(k.Teaching, classKey)
		k.ArchivedTeaching = removeFromSet(k.ArchivedTeaching, classKey)
	}, false)
}

func (s *Service) admit(ctx context.Context, classKey string, user model.User, entries docstore.Collection[model.User], mirror func(*model.ClassKeeping), flatten bool) error {
	if user.Key == "" {
		return errs.NewValidation("key", "user key required")
	}
	cls, err := s.cols.Classes.Get(ctx, classKey)
	if err != nil {
		return err
	}
	if cls == nil {
		return errs.NotFoundf("class %s", classKey)
	}

	entry := user
	entry.Status = model.MemberActive
	if _, err := entries.Under(model.ClassPath(classKey)).Create(ctx, entry); err != nil {
		return err
	}
	if flatten {
		err := s.cols.Classes.Update(ctx, classKey, docstore.Doc{
			"enrolledStudents": addToSet(cls.EnrolledStudents, user.Key),
		})
		if err != nil {
			return err
		}
	}
	if err := s.writeMirror(ctx, user.Key, mirror); err != nil {
		return err
	}
	s.enqueueRepair(ctx, user.Key)
	return nil
}

// Unenroll is a soft removal: the roster entry stays with its membership
// flag set inactive, historical check-ins keep the student key, and the
// keeping mirror moves the class into archivedEnrolled. Only the flattened
// current-membership set drops the key.
func (s *Service) Unenroll(ctx context.Context, classKey, studentKey string) error {
	return s.retire(ctx, classKey, studentKey, s.cols.Enrolled, func(k *model.ClassKeeping) {
		k.Enrolled = removeFromSet(k.Enrolled, classKey)
		k.ArchivedEnrolled = addToSet(k.ArchivedEnrolled, classKey)
	}, true)
}

// Leave archives a teaching relationship, mirroring Unenroll.
func (s *Service) Leave(ctx context.Context, classKey, teacherKey string) error {
	return s.retire(ctx, classKey, teacherKey, s.cols.Teachers, func(k *model.ClassKeeping) {
		k.Teaching = removeFromSet(k.Teaching, classKey)
		k.ArchivedTeaching = addToSet(k.ArchivedTeaching, classKey)
	}, false)
}

func (s *Service) retire(ctx context.Context, classKey, userKey string, entries docstore.Collection[model.User], mirror func(*model.ClassKeeping), flatten bool) error {
	scoped := entries.Under(model.ClassPath(classKey))
	entry, err := scoped.Get(ctx, userKey)
	if err != nil {
		return err
	}
	if entry == nil {
		return errs.NewValidation("key", "no such roster entry")
	}
	if err := scoped.Update(ctx, userKey, docstore.Doc{"status": model.MemberInactive}); err != nil {
		return err
	}
	if flatten {
		cls, err := s.cols.Classes.Get(ctx, classKey)
		if err != nil {
			return err
		}
		if cls != nil {
			err := s.cols.Classes.Update(ctx, classKey, docstore.Doc{
				"enrolledStudents": removeFromSet(cls.EnrolledStudents, userKey),
			})
			if err != nil {
				return err
			}
		}
	}
	if err := s.writeMirror(ctx, userKey, mirror); err != nil {
		return err
	}
	s.enqueueRepair(ctx, userKey)
	return nil
}

// LoadClass materializes the full roster view by joining the class document
// with its teacher and enrolled subcollections. This fan-out read is the
// canonical roster view; list views should stay on the count-based pattern
// instead.
func (s *Service) LoadClass(ctx context.Context, classKey string) (model.Class, error) {
	cls, err := s.cols.Classes.Get(ctx, classKey)
	if err != nil {
		return model.Class{}, err
	}
	if cls == nil {
		return model.Class{}, errs.NotFoundf("class %s", classKey)
	}
	teachers, err := s.cols.Teachers.Under(model.ClassPath(classKey)).Find(ctx, nil)
	if err != nil {
		return model.Class{}, err
	}
	enrolled, err := s.cols.Enrolled.Under(model.ClassPath(classKey)).Find(ctx, nil)
	if err != nil {
		return model.Class{}, err
	}
	sortUsers(teachers)
	sortUsers(enrolled)
	cls.Teachers = teachers
	cls.Enrolled = enrolled
	return *cls, nil
}

// Keeping returns a user's class index, synthesizing an empty one for users
// that have never been enrolled anywhere.
func (s *Service) Keeping(ctx context.Context, userKey string) (model.ClassKeeping, error) {
	keeping, err := s.cols.ClassKeepings.Get(ctx, userKey)
	if err != nil {
		return model.ClassKeeping{}, err
	}
	if keeping == nil {
		return model.ClassKeeping{Key: userKey}, nil
	}
	return *keeping, nil
}

// Repair rebuilds a user's keeping index from the class rosters, which are
// the source of truth. It is the maintenance pass that stands in for the
// atomicity the dual-aggregate writes never had.
func (s *Service) Repair(ctx context.Context, userKey string) (model.ClassKeeping, error) {
	if userKey == "" {
		return model.ClassKeeping{}, errs.NewValidation("key", "user key required")
	}
	classes, err := s.cols.Classes.Find(ctx, nil)
	if err != nil {
		return model.ClassKeeping{}, err
	}
	rebuilt := model.ClassKeeping{Key: userKey}
	for _, cls := range classes {
		path := model.ClassPath(cls.Key)
		if entry, err := s.cols.Teachers.Under(path).Get(ctx, userKey); err != nil {
			return model.ClassKeeping{}, err
		} else if entry != nil {
			if entry.Status == model.MemberInactive {
				rebuilt.ArchivedTeaching = addToSet(rebuilt.ArchivedTeaching, cls.Key)
			} else {
				rebuilt.Teaching = addToSet(rebuilt.Teaching, cls.Key)
			}
		}
		if entry, err := s.cols.Enrolled.Under(path).Get(ctx, userKey); err != nil {
			return model.ClassKeeping{}, err
		} else if entry != nil {
			if entry.Status == model.MemberInactive {
				rebuilt.ArchivedEnrolled = addToSet(rebuilt.ArchivedEnrolled, cls.Key)
			} else {
				rebuilt.Enrolled = addToSet(rebuilt.Enrolled, cls.Key)
			}
		}
	}
	// Authoritative rebuild: full overwrite, not a merge.
	return s.cols.ClassKeepings.Create(ctx, rebuilt)
}

func (s *Service) writeMirror(ctx context.Context, userKey string, mutate func(*model.ClassKeeping)) error {
	keeping, err := s.Keeping(ctx, userKey)
	if err != nil {
		return err
	}
	mutate(&keeping)
	_, err = s.cols.ClassKeepings.Create(ctx, keeping)
	return err
}

func (s *Service) enqueueRepair(ctx context.Context, userKey string) {
	if s.repairs == nil {
		return
	}
	if err := s.repairs.EnqueueRepair(ctx, userKey); err != nil {
		s.log.Warn().Err(err).Str("user", userKey).Msg("repair enqueue failed")
	}
}

func addToSet(set []string, key string) []string {
	for _, existing := range set {
		if existing == key {
			return set
		}
	}
	return append(set, key)
}

func removeFromSet(set []string, key string) []string {
	out := set[:0]
	for _, existing := range set {
		if existing != key {
			out = append(out, existing)
		}
	}
	return out
}

func sortUsers(users []model.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Key < users[j].Key })
}
