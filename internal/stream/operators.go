package stream

import (
	"context"
	"sync"
)

// Of returns a cold stream that emits vals in order and completes.
func Of[T any](vals ...T) Stream[T] {
	return Func[T](func() *Subscription[T] {
		sub := newSubscription[T]()
		for _, v := range vals {
			sub.push(v)
		}
		sub.finish(nil)
		return sub
	})
}

// Never returns a stream that neither emits nor terminates.
func Never[T any]() Stream[T] {
	return Func[T](newSubscription[T])
}

// Fail returns a stream that terminates with err as soon as it is subscribed.
func Fail[T any](err error) Stream[T] {
	return Func[T](func() *Subscription[T] {
		sub := newSubscription[T]()
		sub.finish(err)
		return sub
	})
}

// First subscribes to src and returns its first value.
func First[T any](ctx context.Context, src Stream[T]) (T, error) {
	sub := src.Subscribe()
	defer sub.Close()
	return sub.Next(ctx)
}

// FilterMap transforms each value with fn and forwards the results for which
// fn reports true.
func FilterMap[T, U any](src Stream[T], fn func(T) (U, bool)) Stream[U] {
	return Func[U](func() *Subscription[U] {
		up := src.Subscribe()
		down := newSubscription[U]()
		forward(up, down, fn)
		return down
	})
}

// Filter forwards only the values keep accepts.
func Filter[T any](src Stream[T], keep func(T) bool) Stream[T] {
	return FilterMap(src, func(v T) (T, bool) { return v, keep(v) })
}

// Map transforms every value with fn.
func Map[T, U any](src Stream[T], fn func(T) U) Stream[U] {
	return FilterMap(src, func(v T) (U, bool) { return fn(v), true })
}

// StartWith subscribes to src and then emits the value returned by current,
// if any, ahead of everything src produces. Callers that need the snapshot
// and the subscription to be atomic must serialize src's publisher with
// the Subscribe call themselves.
func StartWith[T any](src Stream[T], current func() (T, bool)) Stream[T] {
	return Func[T](func() *Subscription[T] {
		up := src.Subscribe()
		down := newSubscription[T]()
		if v, ok := current(); ok {
			down.push(v)
		}
		forward(up, down, func(v T) (T, bool) { return v, true })
		return down
	})
}

// Merge interleaves the values of all srcs in arrival order. It completes
// when every source has completed and fails as soon as any source fails.
func Merge[T any](srcs ...Stream[T]) Stream[T] {
	return Func[T](func() *Subscription[T] {
		down := newSubscription[T]()
		ups := make([]*Subscription[T], len(srcs))
		for i, src := range srcs {
			ups[i] = src.Subscribe()
			down.onClose(ups[i].Close)
		}

		var wg sync.WaitGroup
		for _, up := range ups {
			wg.Add(1)
			go func(up *Subscription[T]) {
				defer wg.Done()
				for {
					select {
					case v, ok := <-up.C():
						if !ok {
							if err := up.Err(); err != nil {
								down.finish(err)
								for _, other := range ups {
									other.Close()
								}
							}
							return
						}
						down.push(v)
					case <-down.Done():
						return
					}
				}
			}(up)
		}
		go func() {
			wg.Wait()
			down.finish(nil)
		}()
		return down
	})
}

// SwitchMap runs fn for every value of src and emits its result. When a new
// value arrives while a previous fn call is still running, that call's
// context is cancelled and its result is discarded.
func SwitchMap[T, U any](src Stream[T], fn func(context.Context, T) (U, error)) Stream[U] {
	return Func[U](func() *Subscription[U] {
		up := src.Subscribe()
		down := newSubscription[U]()
		ctx, cancel := context.WithCancel(context.Background())
		down.onClose(func() {
			cancel()
			up.Close()
		})

		go func() {
			var (
				mu      sync.Mutex
				gen     uint64
				stop    context.CancelFunc = func() {}
				pending sync.WaitGroup
			)
			defer cancel()

			for {
				select {
				case v, ok := <-up.C():
					if !ok {
						if err := up.Err(); err != nil {
							down.finish(err)
							return
						}
						pending.Wait()
						down.finish(nil)
						return
					}

					mu.Lock()
					stop()
					gen++
					mine := gen
					innerCtx, innerCancel := context.WithCancel(ctx)
					stop = innerCancel
					mu.Unlock()

					pending.Add(1)
					go func() {
						defer pending.Done()
						u, err := fn(innerCtx, v)

						mu.Lock()
						defer mu.Unlock()
						if mine != gen || innerCtx.Err() != nil {
							return
						}
						if err != nil {
							down.finish(err)
							cancel()
							return
						}
						down.push(u)
					}()
				case <-ctx.Done():
					up.Close()
					return
				}
			}
		}()
		return down
	})
}

// forward pumps values from up into down through fn until either side ends.
func forward[T, U any](up *Subscription[T], down *Subscription[U], fn func(T) (U, bool)) {
	down.onClose(up.Close)
	go func() {
		for {
			select {
			case v, ok := <-up.C():
				if !ok {
					down.finish(up.Err())
					return
				}
				if u, keep := fn(v); keep {
					down.push(u)
				}
			case <-down.Done():
				return
			}
		}
	}()
}
