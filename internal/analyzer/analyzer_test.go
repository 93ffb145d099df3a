package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/nao1215/chainscan/internal/model"
)

// jsonRPCError is a minimal rpc.Error for tests.
type jsonRPCError struct {
	code int
	msg  string
}

func (e jsonRPCError) Error() string  { return e.msg }
func (e jsonRPCError) ErrorCode() int { return e.code }

// TestClassify tests transient/permanent classification of raw errors.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantTransient: true},
		{name: "wrapped deadline", err: fmt.Errorf("eth_getCode: %w", context.DeadlineExceeded), wantTransient: true},
		{name: "canceled is permanent", err: context.Canceled, wantTransient: false},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), wantTransient: true},
		{name: "http 429", err: rpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}, wantTransient: true},
		{name: "http 503", err: rpc.HTTPError{StatusCode: http.StatusServiceUnavailable, Status: "503"}, wantTransient: true},
		{name: "http 401", err: rpc.HTTPError{StatusCode: http.StatusUnauthorized, Status: "401"}, wantTransient: false},
		{name: "rpc limit exceeded", err: jsonRPCError{code: -32005, msg: "limit exceeded"}, wantTransient: true},
		{name: "rpc invalid params", err: jsonRPCError{code: -32602, msg: "invalid argument 0"}, wantTransient: false},
		{name: "rate limit message", err: errors.New("daily request count exceeded, request rate limited"), wantTransient: true},
		{name: "unknown error", err: errors.New("execution reverted"), wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := IsTransient(tt.err)
			if got != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.wantTransient)
			}
			if IsPermanent(tt.err) == tt.wantTransient {
				t.Errorf("IsPermanent(%v) disagrees with IsTransient", tt.err)
			}
		})
	}
}

// TestClassifyPreservesExplicitClass verifies explicit wrappers win over heuristics.
func TestClassifyPreservesExplicitClass(t *testing.T) {
	t.Parallel()

	t.Run("explicit permanent timeout", func(t *testing.T) {
		t.Parallel()
		err := NewPermanentError(context.DeadlineExceeded)
		if IsTransient(err) {
			t.Error("expected explicit PermanentError to stay permanent")
		}
		if !errors.Is(err, ErrPermanent) {
			t.Error("expected errors.Is(err, ErrPermanent)")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Error("expected cause to be preserved")
		}
	})

	t.Run("explicit transient", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("wrapped: %w", NewTransientError(errors.New("node busy")))
		if !IsTransient(err) {
			t.Error("expected wrapped TransientError to be transient")
		}
		if Classify(err) != err {
			t.Error("expected Classify to return classified errors unchanged")
		}
	})

	t.Run("outermost class wins", func(t *testing.T) {
		t.Parallel()
		inner := NewTransientError(errors.New("429"))
		err := NewPermanentError(fmt.Errorf("gave up after 3 attempts: %w", inner))
		if IsTransient(err) {
			t.Error("expected permanent wrapper around transient error to be permanent")
		}
		if !errors.Is(err, ErrTransient) {
			t.Error("expected inner transient cause to stay reachable")
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		if NewTransientError(nil) != nil || NewPermanentError(nil) != nil || Classify(nil) != nil {
			t.Error("expected nil in, nil out")
		}
		if IsPermanent(nil) {
			t.Error("expected nil not to be permanent")
		}
	})
}

// TestConfig tests per-address override helpers.
func TestConfig(t *testing.T) {
	t.Parallel()

	impl := model.MustNewAddress("0x00000000000000000000000000000000000000a1")
	admin := model.MustNewAddress("0x00000000000000000000000000000000000000a2")
	rels := []model.Relative{
		{Field: "$implementation", Address: impl},
		{Field: "$admin", Address: admin},
	}

	t.Run("zero config keeps everything", func(t *testing.T) {
		t.Parallel()
		got := FilterRelatives(rels, Config{})
		if len(got) != 2 {
			t.Errorf("expected 2 relatives, got %d", len(got))
		}
	})

	t.Run("ignoreRelatives drops named fields", func(t *testing.T) {
		t.Parallel()
		got := FilterRelatives(rels, Config{IgnoreRelatives: []string{"$admin"}})
		if len(got) != 1 || got[0].Address != impl {
			t.Errorf("expected only implementation, got %v", got)
		}
	})

	t.Run("ignoreDiscovery drops all", func(t *testing.T) {
		t.Parallel()
		if got := FilterRelatives(rels, Config{IgnoreDiscovery: true}); len(got) != 0 {
			t.Errorf("expected no relatives, got %v", got)
		}
	})

	t.Run("merge overrides non-zero fields", func(t *testing.T) {
		t.Parallel()
		base := Config{Name: "Base", IgnoreMethods: []string{"owner"}}
		merged := base.Merge(Config{IgnoreRelatives: []string{"$admin"}})

		if merged.Name != "Base" {
			t.Errorf("expected name to be kept, got %q", merged.Name)
		}
		if !merged.IgnoresMethod("owner") {
			t.Error("expected ignoreMethods to be kept")
		}
		if !merged.IgnoresRelative("$admin") {
			t.Error("expected ignoreRelatives from override")
		}
	})
}

// TestFunc tests the function adapter.
func TestFunc(t *testing.T) {
	t.Parallel()

	addr := model.MustNewAddress("0x0000000000000000000000000000000000000001")
	var a AddressAnalyzer = Func(func(_ context.Context, got model.Address, block uint64, _ Config) (*model.AnalysisResult, error) {
		if block != 7 {
			return nil, fmt.Errorf("unexpected block %d", block)
		}
		return &model.AnalysisResult{Address: got, Kind: model.KindEOA}, nil
	})

	res, err := a.Analyze(context.Background(), addr, 7, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Address != addr || !res.IsEOA() {
		t.Errorf("unexpected result: %+v", res)
	}
}
