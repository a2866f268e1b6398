package interfaces

import "roomrelay/pkg/types"

// ParticipantDirectory keeps one identity record per display name for the life of the process
type ParticipantDirectory interface {
	// Upsert records city for name, creating the record on first sight
	// It returns the previous city and whether a record already existed
	Upsert(name, city string) (previous string, existed bool)

	// Lookup returns the record for name
	Lookup(name string) (types.Participant, bool)

	// Count returns the number of identity records
	Count() int
}
