package filter

import (
	"encoding/json"
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/lightspeed-meeting/globals"
	"github.com/tcriess/lightspeed-meeting/types"
)

// Filter decides which notifications are handed to the notifier. A nil
// Filter lets everything pass.
type Filter struct {
	source string
	prog   *vm.Program
}

// Compile compiles a boolean expr expression against Env. An empty source
// returns a nil Filter.
func Compile(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}
	prog, err := expr.Compile(source, expr.Env(NewEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile filter %q: %w", source, err)
	}
	return &Filter{source: source, prog: prog}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter. Evaluation errors count as no match.
func (f *Filter) Match(env Env) bool {
	if f == nil || f.prog == nil {
		return true
	}
	res, err := expr.Run(f.prog, env)
	if err != nil {
		globals.AppLogger.Debug("could not evaluate filter", "filter", f.source, "event", env.Name, "error", err)
		return false
	}
	ok, _ := res.(bool)
	return ok
}

// NotificationEnv builds the Env of a notification. Payloads that are not
// JSON objects leave Data empty.
func NotificationEnv(n *types.Notification, leaderId string, participants int) Env {
	env := NewEnv()
	env.Room = Room{
		Id:           n.RoomId,
		Participants: participants,
	}
	env.Source = Participant{
		Id:       n.Sender.Id,
		Name:     n.Sender.Name,
		IsLeader: n.Sender.Id != "" && n.Sender.Id == leaderId,
	}
	env.Name = n.Event
	env.Created = n.Created.Unix()
	if len(n.Data) > 0 {
		if err := json.Unmarshal(n.Data, &env.Data); err != nil || env.Data == nil {
			env.Data = make(map[string]interface{})
		}
	}
	return env
}
