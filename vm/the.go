package vm

import (
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Host collaborators
// ---------------------------------------------------------------------------

// EntityAccessor reads and writes properties of host entities such as
// sprites, cast members or windows. Entity names are folded to lower
// case before the call.
type EntityAccessor interface {
	GetProperty(entity string, id Datum, field string) (Datum, error)
	SetProperty(entity string, id Datum, field string, value Datum) error
}

// Clock supplies elapsed time since the VM started.
type Clock interface {
	Elapsed() time.Duration
}

type wallClock struct{ start time.Time }

func (c wallClock) Elapsed() time.Duration { return time.Since(c.start) }

// ManualClock is a Clock advanced explicitly by the host.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Elapsed implements Clock.
func (c *ManualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// MapEntities is an in-memory EntityAccessor keyed by entity, id and
// field. The zero value is ready to use.
type MapEntities struct {
	mu    sync.Mutex
	props map[string]Datum
}

func entityKey(entity string, id Datum, field string) string {
	return FoldName(entity) + "\x00" + CoerceToString(id, 0) + "\x00" + FoldName(field)
}

// GetProperty implements EntityAccessor. Unset properties read as Void.
func (m *MapEntities) GetProperty(entity string, id Datum, field string) (Datum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.props[entityKey(entity, id, field)].Copy(), nil
}

// SetProperty implements EntityAccessor.
func (m *MapEntities) SetProperty(entity string, id Datum, field string, value Datum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.props == nil {
		m.props = make(map[string]Datum)
	}
	m.props[entityKey(entity, id, field)] = value.Copy()
	return nil
}

// ---------------------------------------------------------------------------
// The entity fields
// ---------------------------------------------------------------------------

const ticksPerSecond = 60

func (in *Interpreter) ticks() int64 {
	return int64(in.vm.clock.Elapsed() * ticksPerSecond / time.Second)
}

// theGet evaluates "the field" or "the field of entity id".
func (in *Interpreter) theGet(field string, entity uint16) Datum {
	if entity != NoEntity {
		name := in.script.Names[entity]
		id := in.pop()
		return in.entityGet(name, id, field)
	}
	switch field {
	case "floatprecision":
		return Int(int64(in.FloatPrecision))
	case "ticks":
		return Int(in.ticks())
	case "milliseconds":
		return Int(in.vm.clock.Elapsed().Milliseconds())
	case "timer":
		return Int(in.ticks() - in.vm.timerStart)
	case "paramcount":
		if f := in.frame(); f != nil {
			return Int(int64(len(f.Args)))
		}
		return Int(0)
	case "result":
		return in.result.Copy()
	}
	return in.entityGet("", Void, field)
}

// theSet pops a value (and an entity id when entity is given) and
// writes the field.
func (in *Interpreter) theSet(field string, entity uint16) {
	if entity != NoEntity {
		name := in.script.Names[entity]
		id := in.pop()
		in.entitySet(name, id, field, in.pop())
		return
	}
	v := in.pop()
	switch field {
	case "floatprecision":
		n, err := toInt64(v)
		if err != nil {
			in.warn(err.(*RuntimeError))
			return
		}
		in.FloatPrecision = int(max(0, min(n, 15)))
		return
	case "timer":
		in.vm.timerStart = in.ticks()
		return
	case "ticks", "milliseconds", "paramcount", "result":
		in.warn(newError(HostError, "the %s cannot be set", field))
		return
	}
	in.entitySet("", Void, field, v)
}

func (in *Interpreter) entityGet(entity string, id Datum, field string) Datum {
	if in.vm.entities == nil {
		panic(newError(UnboundReference, "the %s%s is not available", field, ofEntity(entity)))
	}
	v, err := in.vm.entities.GetProperty(entity, id, field)
	if err != nil {
		in.warn(newError(HostError, "the %s%s: %v", field, ofEntity(entity), err))
		return Void
	}
	return v
}

func (in *Interpreter) entitySet(entity string, id Datum, field string, v Datum) {
	if in.vm.entities == nil {
		panic(newError(UnboundReference, "the %s%s is not available", field, ofEntity(entity)))
	}
	if err := in.vm.entities.SetProperty(entity, id, field, v); err != nil {
		in.warn(newError(HostError, "set the %s%s: %v", field, ofEntity(entity), err))
	}
}

// rect is a sprite's bounding box in stage coordinates.
type rect struct{ left, top, right, bottom float64 }

func (r rect) overlaps(o rect) bool {
	return r.left < o.right && o.left < r.right && r.top < o.bottom && o.top < r.bottom
}

func (r rect) inside(o rect) bool {
	return r.left >= o.left && r.right <= o.right && r.top >= o.top && r.bottom <= o.bottom
}

// spriteRect reads the left, top, right and bottom of sprite id through
// the entity accessor. Unset or non-numeric edges count as 0.
func (in *Interpreter) spriteRect(id Datum) rect {
	edge := func(field string) float64 {
		f, err := toFloat64(in.entityGet("sprite", id, field))
		if err != nil {
			return 0
		}
		return f
	}
	return rect{edge("left"), edge("top"), edge("right"), edge("bottom")}
}

func ofEntity(entity string) string {
	if entity == "" {
		return ""
	}
	return " of " + entity
}
