package app

import (
	"fmt"

	"github.com/danpat592/Yeettalk/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

type Policy interface {
	OnBackPressure(c *core.Connection) BackpressureAction
}

// SimplePolicy applies the same action to every slow connection.
type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(*core.Connection) BackpressureAction {
	return p.Action
}

// ParsePolicy maps the backpressure config value to a policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{Action: KickMember}, nil
	case "drop":
		return SimplePolicy{Action: DropFrame}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
