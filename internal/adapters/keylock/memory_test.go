package keylock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/psyche/internal/adapters/keylock"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

func TestMemoryLocker(t *testing.T) {
	defer goleak.VerifyNone(t)

	Convey("Given an in-process locker", t, func() {
		l := keylock.NewMemory()
		ctx := context.Background()

		Convey("When many goroutines contend for one key", func() {
			var (
				wg      sync.WaitGroup
				inside  atomic.Int32
				maxSeen atomic.Int32
				counter int
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(ctx, "user-1")
					if err != nil {
						return
					}
					defer unlock()
					n := inside.Add(1)
					if n > maxSeen.Load() {
						maxSeen.Store(n)
					}
					counter++
					time.Sleep(time.Millisecond)
					inside.Add(-1)
				}()
			}
			wg.Wait()

			Convey("Then the critical section is exclusive", func() {
				So(maxSeen.Load(), ShouldEqual, 1)
				So(counter, ShouldEqual, 16)
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When different keys are locked", func() {
			u1, err := l.Lock(ctx, "a")
			So(err, ShouldBeNil)
			u2, err := l.Lock(ctx, "b")
			So(err, ShouldBeNil)

			Convey("Then they do not block each other", func() {
				So(l.Len(), ShouldEqual, 2)
				u1()
				u2()
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a waiter gives up", func() {
			unlock, err := l.Lock(ctx, "busy")
			So(err, ShouldBeNil)

			wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err = l.Lock(wctx, "busy")

			Convey("Then it fails with ErrLockTimeout and leaves no residue", func() {
				So(errors.Is(err, keylock.ErrLockTimeout), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				unlock()
				unlock()
				So(l.Len(), ShouldEqual, 0)

				again, err := l.Lock(ctx, "busy")
				So(err, ShouldBeNil)
				again()
			})
		})
	})
}
