package reactive

// Observable is a piece of state that announces its changes.
type Observable interface {
	subscribe(listener func()) (unsubscribe func())
}

// Readable is the read-only view handed to components that observe but
// never write a Value.
type Readable[T any] interface {
	Observable
	Get() T
}

type listener struct {
	id uint64
	fn func()
}

// Value holds one piece of loop-confined state. It has a single writer;
// everyone else gets it as a Readable.
type Value[T any] struct {
	v         T
	equal     func(a, b T) bool
	listeners []listener
	nextID    uint64
}

func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{v: initial, equal: func(a, b T) bool { return a == b }}
}

// NewValueFunc is NewValue for types that are not comparable with ==.
func NewValueFunc[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{v: initial, equal: equal}
}

func (v *Value[T]) Get() T { return v.v }

// Set stores x and notifies listeners if it differs from the current value.
// It reports whether the value changed.
func (v *Value[T]) Set(x T) bool {
	if v.equal(v.v, x) {
		return false
	}
	v.v = x
	for _, l := range append([]listener(nil), v.listeners...) {
		l.fn()
	}
	return true
}

func (v *Value[T]) subscribe(fn func()) func() {
	v.nextID++
	id := v.nextID
	v.listeners = append(v.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range v.listeners {
			if l.id == id {
				v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
				return
			}
		}
	}
}
