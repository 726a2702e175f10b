package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meetingDoc struct {
	Key      string `json:"key,omitempty"`
	ClassKey string `json:"classKey"`
	Status   string `json:"status"`
}

func seedMeetings(t *testing.T) Collection[meetingDoc] {
	t.Helper()
	ctx := context.Background()
	meetings := NewCollection[meetingDoc](newTestStore(), "meetings")
	for _, m := range []meetingDoc{
		{Key: "m1", ClassKey: "C1", Status: "open"},
		{Key: "m2", ClassKey: "C1", Status: "concluded"},
		{Key: "m3", ClassKey: "C1", Status: "cancelled"},
		{Key: "m4", ClassKey: "C2", Status: "open"},
	} {
		_, err := meetings.Create(ctx, m)
		require.NoError(t, err)
	}
	return meetings
}

func keysOf(docs []meetingDoc) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Key)
	}
	return out
}

func TestEqualityFilter(t *testing.T) {
	meetings := seedMeetings(t)
	got, err := meetings.Find(context.Background(), Condition{{
		"classKey": {OpEq: "C1"},
	}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, keysOf(got))
}

func TestFieldsWithinGroupAnd(t *testing.T) {
	meetings := seedMeetings(t)
	got, err := meetings.Find(context.Background(), Condition{{
		"classKey": {OpEq: "C1"},
		"status":   {OpEq: "open"},
	}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1"}, keysOf(got))
}

func TestGroupsCombineWithOr(t *testing.T) {
	meetings := seedMeetings(t)
	got, err := meetings.Find(context.Background(), Condition{
		{"status": {OpEq: "open"}},
		{"status": {OpEq: "concluded"}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m4"}, keysOf(got), "union must exclude cancelled")
}

func TestInOperator(t *testing.T) {
	meetings := seedMeetings(t)
	got, err := meetings.Find(context.Background(), Condition{{
		"status": {OpIn: []string{"open", "concluded"}},
	}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m4"}, keysOf(got))
}

func TestEmptyConditionMatchesAll(t *testing.T) {
	meetings := seedMeetings(t)
	got, err := meetings.Find(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestCountWithCondition(t *testing.T) {
	meetings := seedMeetings(t)
	n, err := meetings.Count(context.Background(), Condition{{
		"classKey": {OpEq: "C1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRangeOperators(t *testing.T) {
	ctx := context.Background()
	meetings := NewCollection[meetingDoc](newTestStore(), "meetings")
	for _, m := range []meetingDoc{
		{Key: "m1", ClassKey: "2024-05-01T09:00:00Z"},
		{Key: "m2", ClassKey: "2024-06-01T09:00:00Z"},
	} {
		_, err := meetings.Create(ctx, m)
		require.NoError(t, err)
	}
	got, err := meetings.Find(ctx, Condition{{
		"classKey": {OpGte: "2024-05-15T00:00:00Z"},
	}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m2"}, keysOf(got))
}

func TestCompileConditionSQL(t *testing.T) {
	clause, args, err := compileCondition(Condition{{
		"classKey": {OpEq: "C1"},
	}}, 3)
	require.NoError(t, err)
	assert.Equal(t, "(doc->>'classKey' = $3)", clause)
	assert.Equal(t, []any{"C1"}, args)
}

func TestCompileConditionSQLOr(t *testing.T) {
	clause, args, err := compileCondition(Condition{
		{"status": {OpEq: "open"}},
		{"status": {OpEq: "concluded"}},
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, "((doc->>'status' = $3) OR (doc->>'status' = $4))", clause)
	assert.Equal(t, []any{"open", "concluded"}, args)
}

func TestCompileConditionSQLIn(t *testing.T) {
	clause, args, err := compileCondition(Condition{{
		"status": {OpIn: []string{"open", "concluded"}},
	}}, 1)
	require.NoError(t, err)
	assert.Equal(t, "(doc->>'status' IN ($1, $2))", clause)
	assert.Equal(t, []any{"open", "concluded"}, args)
}

func TestCompileConditionRejectsBadField(t *testing.T) {
	_, _, err := compileCondition(Condition{{
		"bad'field": {OpEq: "x"},
	}}, 1)
	require.Error(t, err)
}

func TestCompileEmptyCondition(t *testing.T) {
	clause, args, err := compileCondition(nil, 1)
	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Empty(t, args)
}
