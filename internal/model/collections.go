package model

import "rollcall/internal/docstore"

// Collections binds every collection name to its record shape over one
// store handle. Construct it once at startup and hand it to the services.
type Collections struct {
	Users         docstore.Collection[User]
	Classes       docstore.Collection[Class]
	Teachers      docstore.Collection[User]
	Enrolled      docstore.Collection[User]
	Meetings      docstore.Collection[Meeting]
	CheckIns      docstore.Collection[CheckIn]
	ClassKeepings docstore.Collection[ClassKeeping]
}

func NewCollections(s *docstore.Store) Collections {
	return Collections{
		Users:         docstore.NewCollection[User](s, CollUsers),
		Classes:       docstore.NewCollection[Class](s, CollClasses),
		Teachers:      docstore.NewCollection[User](s, CollTeachers),
		Enrolled:      docstore.NewCollection[User](s, CollEnrolled),
		Meetings:      docstore.NewCollection[Meeting](s, CollMeetings),
		CheckIns:      docstore.NewCollection[CheckIn](s, CollCheckIns),
		ClassKeepings: docstore.NewCollection[ClassKeeping](s, CollClassKeepings),
	}
}
