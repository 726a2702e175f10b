package roster

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/docstore"
	"rollcall/internal/errs"
	"rollcall/internal/model"
)

// recordingEnqueuer captures repair requests instead of queueing them.
type recordingEnqueuer struct {
	users []string
}

func (r *recordingEnqueuer) EnqueueRepair(_ context.Context, userKey string) error {
	r.users = append(r.users, userKey)
	return nil
}

func newTestService(t *testing.T) (*Service, model.Collections, *recordingEnqueuer) {
	t.Helper()
	docs := docstore.New(docstore.NewMemBackend(), docstore.WithCache(docstore.NewMemCache()))
	cols := model.NewCollections(docs)
	rec := &recordingEnqueuer{}
	return NewService(cols, rec, zerolog.Nop()), cols, rec
}

func seedClass(t *testing.T, svc *Service, key, code string) model.Class {
	t.Helper()
	cls, err := svc.CreateClass(context.Background(), model.Class{
		Key:       key,
		Name:      "Algebra II",
		ClassCode: code,
		Section:   "A",
	})
	require.NoError(t, err)
	return cls
}

func TestCreateClassRejectsDuplicateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seedClass(t, svc, "C1", "ALG-2")
	_, err := svc.CreateClass(ctx, model.Class{Name: "Algebra II (B)", ClassCode: "ALG-2"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	// Archiving the holder frees the code.
	require.NoError(t, svc.cols.Classes.Update(ctx, "C1", docstore.Doc{"archived": true}))
	_, err = svc.CreateClass(ctx, model.Class{Name: "Algebra II (B)", ClassCode: "ALG-2"})
	require.NoError(t, err)
}

func TestEnrollWritesBothAggregates(t *testing.T) {
	svc, cols, rec := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")

	student := model.User{Key: "S1", FullName: "Dana Oh", Email: "dana@example.com"}
	require.NoError(t, svc.Enroll(ctx, "C1", student))

	entry, err := cols.Enrolled.Under(model.ClassPath("C1")).Get(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.MemberActive, entry.Status)

	cls, err := cols.Classes.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, cls.EnrolledStudents)

	keeping, err := svc.Keeping(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keeping.Enrolled)
	assert.Equal(t, []string{"S1"}, rec.users, "every membership write requests a repair pass")
}

func TestEnrollIsIdempotent(t *testing.T) {
	svc, cols, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")

	student := model.User{Key: "S1", FullName: "Dana Oh"}
	require.NoError(t, svc.Enroll(ctx, "C1", student))
	require.NoError(t, svc.Enroll(ctx, "C1", student))

	cls, err := cols.Classes.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, cls.EnrolledStudents)

	keeping, err := svc.Keeping(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keeping.Enrolled)
}

func TestEnrollUnknownClass(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Enroll(context.Background(), "nope", model.User{Key: "S1"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUnenrollIsSoftRemoval(t *testing.T) {
	svc, cols, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")
	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S1"}))

	require.NoError(t, svc.Unenroll(ctx, "C1", "S1"))

	// The roster entry survives marked inactive.
	entry, err := cols.Enrolled.Under(model.ClassPath("C1")).Get(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.MemberInactive, entry.Status)

	// Only the flattened membership set loses the key.
	cls, err := cols.Classes.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, cls.EnrolledStudents)

	keeping, err := svc.Keeping(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, keeping.Enrolled)
	assert.Equal(t, []string{"C1"}, keeping.ArchivedEnrolled)
}

func TestReenrollReactivates(t *testing.T) {
	svc, cols, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")
	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S1"}))
	require.NoError(t, svc.Unenroll(ctx, "C1", "S1"))

	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S1"}))

	entry, err := cols.Enrolled.Under(model.ClassPath("C1")).Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, model.MemberActive, entry.Status)

	keeping, err := svc.Keeping(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keeping.Enrolled)
	assert.Empty(t, keeping.ArchivedEnrolled, "reactivation leaves the archive")
}

func TestUnenrollWithoutEntry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")

	err := svc.Unenroll(ctx, "C1", "S1")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestJoinAndLeave(t *testing.T) {
	svc, cols, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")

	teacher := model.User{Key: "T1", FullName: "Mx. Rivera", Role: "teacher"}
	require.NoError(t, svc.Join(ctx, "C1", teacher))

	keeping, err := svc.Keeping(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, keeping.Teaching)

	// Teaching never touches the flattened student set.
	cls, err := cols.Classes.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, cls.EnrolledStudents)

	require.NoError(t, svc.Leave(ctx, "C1", "T1"))
	keeping, err = svc.Keeping(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, keeping.Teaching)
	assert.Equal(t, []string{"C1"}, keeping.ArchivedTeaching)
}

func TestLoadClassAssemblesRoster(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")
	require.NoError(t, svc.Join(ctx, "C1", model.User{Key: "T1", FullName: "Mx. Rivera"}))
	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S2", FullName: "Ben Ito"}))
	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S1", FullName: "Dana Oh"}))

	cls, err := svc.LoadClass(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, cls.Teachers, 1)
	assert.Equal(t, "T1", cls.Teachers[0].Key)
	require.Len(t, cls.Enrolled, 2)
	assert.Equal(t, "S1", cls.Enrolled[0].Key, "roster views are key-ordered")
	assert.Equal(t, "S2", cls.Enrolled[1].Key)

	_, err = svc.LoadClass(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestKeepingSynthesizesEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	keeping, err := svc.Keeping(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", keeping.Key)
	assert.Empty(t, keeping.Enrolled)
	assert.Empty(t, keeping.Teaching)
}

func TestRepairRebuildsLostMirror(t *testing.T) {
	svc, cols, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")
	seedClass(t, svc, "C2", "GEO-1")
	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S1"}))
	require.NoError(t, svc.Enroll(ctx, "C2", model.User{Key: "S1"}))
	require.NoError(t, svc.Unenroll(ctx, "C2", "S1"))
	require.NoError(t, svc.Join(ctx, "C1", model.User{Key: "S1"}))

	// Simulate a lost mirror write by clobbering the index.
	_, err := cols.ClassKeepings.Create(ctx, model.ClassKeeping{Key: "S1"})
	require.NoError(t, err)

	rebuilt, err := svc.Repair(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, rebuilt.Enrolled)
	assert.Equal(t, []string{"C2"}, rebuilt.ArchivedEnrolled)
	assert.Equal(t, []string{"C1"}, rebuilt.Teaching)

	keeping, err := svc.Keeping(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, rebuilt, keeping, "the rebuild is persisted, not just returned")
}

func TestRepairIsConvergent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedClass(t, svc, "C1", "ALG-2")
	require.NoError(t, svc.Enroll(ctx, "C1", model.User{Key: "S1"}))

	first, err := svc.Repair(ctx, "S1")
	require.NoError(t, err)
	second, err := svc.Repair(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
