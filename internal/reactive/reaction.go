package reactive

// React runs effect with the latest expr() whenever one of deps changes and
// the result differs from the last observed one. Several writes within one
// loop turn coalesce into a single effect call. The current expr() at
// registration is the baseline; effect is not called for it.
func React[K comparable](l *Loop, expr func() K, effect func(K), deps ...Observable) (dispose func()) {
	r := &reaction{loop: l}
	last := expr()
	r.run = func() {
		k := expr()
		if k == last {
			return
		}
		last = k
		effect(k)
	}
	return r.bind(deps)
}

// Watch runs effect once per loop turn in which any of deps changed.
func Watch(l *Loop, effect func(), deps ...Observable) (dispose func()) {
	r := &reaction{loop: l, run: effect}
	return r.bind(deps)
}

type reaction struct {
	loop      *Loop
	run       func()
	scheduled bool
	disposed  bool
	unsubs    []func()
}

func (r *reaction) bind(deps []Observable) func() {
	for _, d := range deps {
		r.unsubs = append(r.unsubs, d.subscribe(r.schedule))
	}
	return r.dispose
}

func (r *reaction) schedule() {
	if r.scheduled || r.disposed {
		return
	}
	r.scheduled = true
	if !r.loop.Post(r.flush) {
		r.scheduled = false
	}
}

func (r *reaction) flush() {
	r.scheduled = false
	if r.disposed {
		return
	}
	r.run()
}

func (r *reaction) dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	for _, u := range r.unsubs {
		u()
	}
	r.unsubs = nil
}
