package filter

/*
Here the Env used in the notification filters is defined.
Filters are part of the configuration, renaming a property breaks every
deployed filter that uses it.
*/

type Participant struct {
	Id       string
	Name     string
	IsLeader bool
}

type Room struct {
	Id           string
	Participants int
}

type Env struct {
	Room
	Source  Participant
	Name    string // the event, f.e. "vote_update"
	Created int64  // unix seconds
	Data    map[string]interface{}

	AsInt         func(interface{}) int64
	AsFloat       func(interface{}) float64
	AsString      func(interface{}) string
	AsStringSlice func(string) []string
}

// NewEnv returns an Env with the conversion helpers set.
func NewEnv() Env {
	return Env{
		Data:          make(map[string]interface{}),
		AsInt:         AsInt,
		AsFloat:       AsFloat,
		AsString:      AsString,
		AsStringSlice: AsStringSlice,
	}
}
