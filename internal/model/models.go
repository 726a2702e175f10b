// Package model declares the persisted entities and the closed registry of
// collections they live in. Every document carries a unique key: absent
// until first persisted, then immutable.
package model

// Collection names. The store API is generic; binding each name to exactly
// one record shape here keeps every call site type-checked.
const (
	CollUsers         = "users"
	CollClasses       = "classes"
	CollTeachers      = "teachers"
	CollEnrolled      = "enrolled"
	CollMeetings      = "meetings"
	CollCheckIns      = "check-ins"
	CollClassKeepings = "class-keepings"
)

// ClassPath is the parent document path for a class's subcollections
// (teachers, enrolled).
func ClassPath(classKey string) string {
	return "/" + CollClasses + "/" + classKey
}

// MeetingPath is the parent document path for a meeting's check-ins.
func MeetingPath(meetingKey string) string {
	return "/" + CollMeetings + "/" + meetingKey
}

type MeetingStatus string

const (
	MeetingOpen      MeetingStatus = "open"
	MeetingCancelled MeetingStatus = "cancelled"
	MeetingConcluded MeetingStatus = "concluded"
)

type CheckInStatus string

const (
	CheckInPending CheckInStatus = "check-in"
	CheckInAbsent  CheckInStatus = "absent"
	CheckInLate    CheckInStatus = "late"
	CheckInPresent CheckInStatus = "present"
)

// Membership flags for roster entries under a class. Removal is soft: an
// unenrolled student's entry stays with status inactive so historical
// check-ins keep their linkage.
const (
	MemberActive   = "active"
	MemberInactive = "inactive"
)

// User is an account. The same shape doubles as the roster snapshot stored
// under a class's teachers/enrolled subcollections, where Status carries the
// membership flag.
type User struct {
	Key           string `json:"key,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Role          string `json:"role,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Class is a course offering. EnrolledStudents is the flattened membership
// set kept for O(1) checks; Teachers and Enrolled are display snapshots
// assembled from the subcollections on a fan-out read and must be refreshed
// from the users collection before being trusted.
type Class struct {
	Key              string   `json:"key,omitempty"`
	Name             string   `json:"name"`
	ClassCode        string   `json:"classCode"`
	Section          string   `json:"section,omitempty"`
	AcademicYear     string   `json:"academicYear,omitempty"`
	EnrolledStudents []string `json:"enrolledStudents,omitempty"`
	Teachers         []User   `json:"teachers,omitempty"`
	Enrolled         []User   `json:"enrolled,omitempty"`
	Archived         bool     `json:"archived,omitempty"`
}

// ClassKeeping is the per-user index of classes taught and attended. Its key
// is the user key. A class key appears in at most one of teaching/
// archivedTeaching and at most one of enrolled/archivedEnrolled; the index
// mirrors the class rosters and may be briefly stale.
type ClassKeeping struct {
	Key              string   `json:"key,omitempty"`
	Teaching         []string `json:"teaching,omitempty"`
	ArchivedTeaching []string `json:"archivedTeaching,omitempty"`
	Enrolled         []string `json:"enrolled,omitempty"`
	ArchivedEnrolled []string `json:"archivedEnrolled,omitempty"`
}

// Meeting is one scheduled occurrence of a class where attendance is taken.
// CheckInCount and LatestCheckIn are denormalized display fields, updated
// opportunistically. CheckIns is populated only on reads that ask for it;
// the children live in their own subcollection and are never embedded in
// the meeting document itself.
type Meeting struct {
	Key           string        `json:"key,omitempty"`
	ClassKey      string        `json:"classKey"`
	Date          string        `json:"date"`
	Status        MeetingStatus `json:"status"`
	Teacher       string        `json:"teacher,omitempty"`
	CheckInCount  int           `json:"checkInCount,omitempty"`
	LatestCheckIn string        `json:"latestCheckIn,omitempty"`
	CheckIns      []CheckIn     `json:"checkIns,omitempty"`
}

// CheckIn is one student's attendance record for one meeting, stored under
// the meeting's path with the student key as document key, so repeat
// check-ins overwrite instead of duplicating. CheckInTime is the first-seen
// timestamp; MarkedInTime is stamped on the first transition out of the
// check-in status and never re-stamped.
type CheckIn struct {
	Key          string        `json:"key,omitempty"`
	Student      string        `json:"student"`
	CheckInTime  string        `json:"checkInTime,omitempty"`
	Status       CheckInStatus `json:"status"`
	MarkedInTime string        `json:"markedInTime,omitempty"`
	Comments     []Comment     `json:"comments,omitempty"`
}

// Comment is one entry in a check-in's discussion thread.
type Comment struct {
	Author  string `json:"author"`
	Message string `json:"message"`
	Date    string `json:"date"`
}
