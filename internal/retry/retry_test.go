package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/srg-rm/rm-copilot/internal/retry"
)

var errTemporary = errors.New("temporary")

func recordingSleep(delays *[]time.Duration) retry.SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDo(t *testing.T) {
	convey.Convey("Given a policy with three attempts", t, func() {
		var delays []time.Duration
		policy := retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.Exponential(time.Second, 3*time.Second),
			Sleep:       recordingSleep(&delays),
		}
		ctx := context.Background()

		convey.Convey("When the operation succeeds on the second attempt", func() {
			calls := 0
			err := retry.Do(ctx, policy, func(context.Context) error {
				calls++
				if calls < 2 {
					return errTemporary
				}
				return nil
			})

			convey.So(err, convey.ShouldBeNil)
			convey.So(calls, convey.ShouldEqual, 2)
			convey.So(delays, convey.ShouldResemble, []time.Duration{time.Second})
		})

		convey.Convey("When every attempt fails", func() {
			calls := 0
			err := retry.Do(ctx, policy, func(context.Context) error {
				calls++
				return errTemporary
			})

			convey.So(err, convey.ShouldEqual, errTemporary)
			convey.So(calls, convey.ShouldEqual, 3)
			convey.So(delays, convey.ShouldResemble, []time.Duration{time.Second, 2 * time.Second})
		})

		convey.Convey("When the error is not retryable", func() {
			policy.Retryable = func(err error) bool { return !errors.Is(err, errTemporary) }
			calls := 0
			err := retry.Do(ctx, policy, func(context.Context) error {
				calls++
				return errTemporary
			})

			convey.So(err, convey.ShouldEqual, errTemporary)
			convey.So(calls, convey.ShouldEqual, 1)
			convey.So(delays, convey.ShouldBeEmpty)
		})

		convey.Convey("When the sleep is interrupted", func() {
			policy.Sleep = func(context.Context, time.Duration) error { return context.Canceled }
			err := retry.Do(ctx, policy, func(context.Context) error { return errTemporary })

			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
		})
	})
}

func TestBackoffSchedules(t *testing.T) {
	convey.Convey("Exponential caps at the max delay", t, func() {
		b := retry.Exponential(time.Second, 60*time.Second)
		convey.So(b(1, nil), convey.ShouldEqual, time.Second)
		convey.So(b(3, nil), convey.ShouldEqual, 4*time.Second)
		convey.So(b(10, nil), convey.ShouldEqual, 60*time.Second)
	})

	convey.Convey("Linear grows by one step per attempt", t, func() {
		b := retry.Linear(500 * time.Millisecond)
		convey.So(b(1, nil), convey.ShouldEqual, 500*time.Millisecond)
		convey.So(b(3, nil), convey.ShouldEqual, 1500*time.Millisecond)
	})
}
