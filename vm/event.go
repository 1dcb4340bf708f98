package vm

import "fmt"

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventKind enumerates the lifecycle and input events scripts can handle.
// The handler for an event carries the event's name, e.g. "on enterFrame".
type EventKind uint8

const (
	EventNone EventKind = iota
	EventPrepareMovie
	EventStartMovie
	EventStopMovie
	EventNew
	EventBeginSprite
	EventEndSprite
	EventEnterFrame
	EventPrepareFrame
	EventIdle
	EventStepFrame
	EventExitFrame
	EventActivateWindow
	EventDeactivateWindow
	EventMoveWindow
	EventResizeWindow
	EventOpenWindow
	EventCloseWindow
	EventKeyUp
	EventKeyDown
	EventMouseUp
	EventMouseDown
	EventRightMouseUp
	EventRightMouseDown
	EventMouseEnter
	EventMouseLeave
	EventMouseUpOutside
	EventMouseWithin
	EventTimeout
)

var eventNames = [...]string{
	EventNone:             "none",
	EventPrepareMovie:     "prepareMovie",
	EventStartMovie:       "startMovie",
	EventStopMovie:        "stopMovie",
	EventNew:              "new",
	EventBeginSprite:      "beginSprite",
	EventEndSprite:        "endSprite",
	EventEnterFrame:       "enterFrame",
	EventPrepareFrame:     "prepareFrame",
	EventIdle:             "idle",
	EventStepFrame:        "stepFrame",
	EventExitFrame:        "exitFrame",
	EventActivateWindow:   "activateWindow",
	EventDeactivateWindow: "deactivateWindow",
	EventMoveWindow:       "moveWindow",
	EventResizeWindow:     "resizeWindow",
	EventOpenWindow:       "openWindow",
	EventCloseWindow:      "closeWindow",
	EventKeyUp:            "keyUp",
	EventKeyDown:          "keyDown",
	EventMouseUp:          "mouseUp",
	EventMouseDown:        "mouseDown",
	EventRightMouseUp:     "rightMouseUp",
	EventRightMouseDown:   "rightMouseDown",
	EventMouseEnter:       "mouseEnter",
	EventMouseLeave:       "mouseLeave",
	EventMouseUpOutside:   "mouseUpOutside",
	EventMouseWithin:      "mouseWithin",
	EventTimeout:          "timeout",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// HandlerName returns the name of the handler that receives k.
func (k EventKind) HandlerName() string { return k.String() }

// ParseEventKind returns the kind whose name matches s, ignoring case.
func ParseEventKind(s string) (EventKind, error) {
	key := FoldName(s)
	for k, name := range eventNames {
		if k != int(EventNone) && FoldName(name) == key {
			return EventKind(k), nil
		}
	}
	return EventNone, fmt.Errorf("unknown event %q", s)
}

// EventKinds returns every dispatchable kind.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, len(eventNames)-1)
	for k := EventPrepareMovie; int(k) < len(eventNames); k++ {
		out = append(out, k)
	}
	return out
}

// Event is one occurrence delivered by the host.
type Event struct {
	Kind   EventKind
	Target int // entity id; 0 addresses the movie only
	Key    int // key code for keyUp and keyDown
}

// args returns the arguments passed to the handler.
func (e Event) args() []Datum {
	switch e.Kind {
	case EventKeyUp, EventKeyDown:
		return []Datum{Int(int64(e.Key))}
	}
	return nil
}

func (e Event) String() string {
	if e.Target != 0 {
		return fmt.Sprintf("%s@%d", e.Kind, e.Target)
	}
	return e.Kind.String()
}
