package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errProvider = errors.New("provider down")

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})

	fail := func() error { return errProvider }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errProvider) {
			t.Fatalf("call %d: got %v, want provider error", i, err)
		}
	}

	// 达到阈值后应直接拒绝
	if err := cb.Execute(fail); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("got %v, want ErrCircuitBreakerOpen", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want StateOpen", cb.GetState())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})

	_ = cb.Execute(func() error { return errProvider })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errProvider })

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want StateClosed after interleaved success", cb.GetState())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             10 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	})

	_ = cb.Execute(func() error { return errProvider })
	// 状态切换发生在下一次 Execute 入口，不是失败当下
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("got %v, want ErrCircuitBreakerOpen", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want StateOpen", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	// 成功一次后应关闭
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("post-recovery call failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want StateClosed", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig())
	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errProvider })
	}
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want StateClosed after reset", cb.GetState())
	}
}
