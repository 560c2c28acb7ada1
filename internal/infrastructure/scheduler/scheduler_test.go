package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler(t *testing.T) {
	Convey("Given a Scheduler", t, func() {
		core, logs := observer.New(zapcore.DebugLevel)
		logger := zap.New(core).Sugar()
		now := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)

		Convey("New function", func() {
			Convey("When the cron expression is invalid", func() {
				_, err := New(Options{Cron: "not a cron line"}, logger)

				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "invalid cron expression")
				})
			})

			Convey("When an hour is out of range", func() {
				_, err := New(Options{Hours: []int{1, 24}}, logger)

				So(err, ShouldNotBeNil)
			})
		})

		Convey("Next function", func() {
			Convey("When only a delay is set", func() {
				s, err := New(Options{Delay: 30 * time.Second}, logger)
				So(err, ShouldBeNil)

				So(s.Next(now), ShouldEqual, now.Add(30*time.Second))
			})

			Convey("When a cron expression is set", func() {
				s, err := New(Options{Cron: "*/5 * * * *", Delay: 30 * time.Second}, logger)
				So(err, ShouldBeNil)

				Convey("It should take precedence over the delay", func() {
					So(s.Next(now), ShouldEqual, time.Date(2024, 5, 1, 10, 20, 0, 0, time.UTC))
				})
			})

			Convey("When the cron expression has a seconds field", func() {
				s, err := New(Options{Cron: "30 * * * * *"}, logger)
				So(err, ShouldBeNil)

				So(s.Next(now), ShouldEqual, now.Add(30*time.Second))
			})

			Convey("When the cron expression never fires", func() {
				s, err := New(Options{Cron: "0 0 30 2 *", Delay: time.Minute}, logger)
				So(err, ShouldBeNil)

				Convey("It should fall back to the delay with a warning", func() {
					So(s.Next(now), ShouldEqual, now.Add(time.Minute))
					So(logs.FilterLevelExact(zapcore.WarnLevel).Len(), ShouldEqual, 1)
				})
			})
		})

		Convey("WaitForNextIteration function", func() {
			Convey("When a delay is used", func() {
				s, err := New(Options{Delay: 50 * time.Millisecond}, logger)
				So(err, ShouldBeNil)

				Convey("The first iteration should start at once", func() {
					start := time.Now()
					So(s.WaitForNextIteration(context.Background()), ShouldBeNil)
					So(time.Since(start), ShouldBeLessThan, 40*time.Millisecond)

					Convey("Later iterations should wait for the delay", func() {
						start := time.Now()
						So(s.WaitForNextIteration(context.Background()), ShouldBeNil)
						So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 40*time.Millisecond)
					})
				})
			})

			Convey("When a cron expression is used", func() {
				s, err := New(Options{Cron: "@hourly"}, logger)
				So(err, ShouldBeNil)

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
				defer cancel()

				Convey("The first iteration should wait for the schedule", func() {
					err := s.WaitForNextIteration(ctx)
					So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				})
			})

			Convey("When the current hour is not active", func() {
				s, err := New(Options{Hours: []int{0, 1, 2}}, logger)
				So(err, ShouldBeNil)
				s.now = func() time.Time { return now }

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
				defer cancel()

				Convey("It should block until cancelled", func() {
					err := s.WaitForNextIteration(ctx)
					So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
					So(logs.FilterMessageSnippet("Outside active hours").Len(), ShouldEqual, 1)
				})
			})
		})

		Convey("When the clock is injected", func() {
			s, err := New(Options{Hours: []int{0, 1, 2}}, logger)
			So(err, ShouldBeNil)

			clock := now
			s.now = func() time.Time { return clock }
			var waits []time.Duration
			s.sleep = func(ctx context.Context, d time.Duration) error {
				waits = append(waits, d)
				clock = clock.Add(d)
				return nil
			}

			Convey("The wait for active hours should be measured on that clock", func() {
				So(s.WaitForNextIteration(context.Background()), ShouldBeNil)
				So(waits, ShouldResemble, []time.Duration{13*time.Hour + 45*time.Minute})
				So(clock, ShouldEqual, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
				So(logs.FilterMessageSnippet("Outside active hours").Len(), ShouldEqual, 1)
			})
		})

		Convey("WaitUntil function", func() {
			Convey("When the time has passed", func() {
				So(WaitUntil(context.Background(), now), ShouldBeNil)
			})

			Convey("When the context is already cancelled", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				So(WaitUntil(ctx, time.Now().Add(time.Hour)), ShouldEqual, context.Canceled)
			})
		})
	})
}

func TestActiveHours(t *testing.T) {
	Convey("Given active hours 0, 1 and 2", t, func() {
		hours, err := NewActiveHours([]int{0, 1, 2})
		So(err, ShouldBeNil)

		Convey("Hour 1 should be allowed and hour 10 should not", func() {
			So(hours.Allowed(time.Date(2024, 5, 1, 1, 59, 0, 0, time.UTC)), ShouldBeTrue)
			So(hours.Allowed(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), ShouldBeFalse)
		})

		Convey("At hour 10 the next active time should be midnight", func() {
			next := hours.NextActive(time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC))

			So(next, ShouldEqual, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
		})

		Convey("Inside the window the current time should be returned", func() {
			t := time.Date(2024, 5, 1, 2, 30, 0, 0, time.UTC)

			So(hours.NextActive(t), ShouldEqual, t)
		})
	})

	Convey("Given no active hours", t, func() {
		hours, err := NewActiveHours(nil)
		So(err, ShouldBeNil)

		Convey("Every hour should be allowed", func() {
			for h := 0; h < 24; h++ {
				So(hours.Allowed(time.Date(2024, 5, 1, h, 0, 0, 0, time.UTC)), ShouldBeTrue)
			}
		})
	})
}
