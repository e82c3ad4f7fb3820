package scanning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubModel struct {
	calls  int
	output string
	err    error
	closed bool
}

func (s *stubModel) Invoke(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.output, s.err
}

func (s *stubModel) Name() string { return "stub/model" }

func (s *stubModel) Close() error {
	s.closed = true
	return nil
}

var _ = Describe("Breaker", func() {
	var (
		inner   *stubModel
		breaker *Breaker
		logger  *slog.Logger
	)

	BeforeEach(func() {
		inner = &stubModel{output: "{}"}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		breaker = NewBreaker(inner, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, logger)
	})

	It("should pass calls through while closed", func() {
		out, err := breaker.Invoke(context.Background(), Request{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("{}"))
		Expect(inner.calls).To(Equal(1))
		Expect(breaker.Name()).To(Equal("stub/model"))
	})

	When("the model keeps failing", func() {
		BeforeEach(func() {
			inner.err = errors.New("upstream down")
			for i := 0; i < 2; i++ {
				_, err := breaker.Invoke(context.Background(), Request{})
				Expect(err).To(MatchError("upstream down"))
			}
		})

		It("should fail fast without calling the model", func() {
			_, err := breaker.Invoke(context.Background(), Request{})
			Expect(err).To(MatchError(ErrModelUnavailable))
			Expect(inner.calls).To(Equal(2))
		})
	})

	When("calls are cancelled", func() {
		BeforeEach(func() {
			inner.err = context.Canceled
			for i := 0; i < 3; i++ {
				_, _ = breaker.Invoke(context.Background(), Request{})
			}
		})

		It("should not trip", func() {
			inner.err = nil
			_, err := breaker.Invoke(context.Background(), Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.calls).To(Equal(4))
		})
	})

	When("the caller's deadline expires", func() {
		BeforeEach(func() {
			inner.err = context.DeadlineExceeded
			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
				_, err := breaker.Invoke(ctx, Request{})
				cancel()
				Expect(err).To(MatchError(context.DeadlineExceeded))
			}
		})

		It("should not trip", func() {
			inner.err = nil
			_, err := breaker.Invoke(context.Background(), Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.calls).To(Equal(4))
		})
	})

	When("the provider times out on its own", func() {
		BeforeEach(func() {
			inner.err = context.DeadlineExceeded
			for i := 0; i < 2; i++ {
				_, _ = breaker.Invoke(context.Background(), Request{})
			}
		})

		It("should trip", func() {
			_, err := breaker.Invoke(context.Background(), Request{})
			Expect(err).To(MatchError(ErrModelUnavailable))
			Expect(inner.calls).To(Equal(2))
		})
	})

	It("should close the wrapped model", func() {
		Expect(breaker.Close()).To(Succeed())
		Expect(inner.closed).To(BeTrue())
	})
})
