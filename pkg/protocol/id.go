package protocol

import "github.com/google/uuid"

// IntentID is the 128-bit correlation id carried raw in every frame.
// It only has to be unique among the intents of one connection.
type IntentID [16]byte

// NewIntentID draws a fresh random id.
func NewIntentID() (IntentID, error) {
    u, err := uuid.NewRandom()
    if err != nil { return IntentID{}, err }
    return IntentID(u), nil
}

// ParseIntentID parses the textual form produced by IntentID.String.
func ParseIntentID(s string) (IntentID, error) {
    u, err := uuid.Parse(s)
    if err != nil { return IntentID{}, err }
    return IntentID(u), nil
}

func (id IntentID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the all-zero id.
func (id IntentID) IsZero() bool { return id == IntentID{} }
