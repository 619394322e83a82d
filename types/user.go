package types

// Identity is the authenticated user behind a participant. It is opaque to
// the session core apart from Id, which keys the participant within a room.
type Identity struct {
	Id    string `json:"id" mapstructure:"id"`     // stable user id
	Name  string `json:"name" mapstructure:"name"` // display name
	Guest bool   `json:"-" mapstructure:"-"`       // self-asserted, may rename itself
}
