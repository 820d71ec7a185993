package models

// Role tags a connected client's capabilities on a story channel
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher" // read-only monitor, may force-finish
)

// Participant represents a member of a story's live channel.
// Identity, name and color come from the user/class service at join time;
// the presence registry is the sole authority on Online.
type Participant struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Online bool   `json:"online"`
}

// TurnState tracks relay-mode rotation for a story. Exactly one author
// holds the turn at any instant; the rotation order is fixed at session
// start and only changes through explicit join handling.
type TurnState struct {
	HolderID     string   `json:"currentStudentId"`
	Rotation     []string `json:"rotation"`
	TurnNumber   int      `json:"turnNumber"`
	DeadlineUnix int64    `json:"deadline"`
}
