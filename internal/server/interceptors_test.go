package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const reflectionMethod = "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

func unaryInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func TestAuthInterceptor(t *testing.T) {
	for _, tc := range []struct {
		name   string
		token  string
		method string
		md     metadata.MD
		want   codes.Code
	}{
		{"Disabled", "", reflectionMethod, nil, codes.OK},
		{"HealthExempt", "secret", "/grpc.health.v1.Health/Check", nil, codes.OK},
		{"MissingMetadata", "secret", reflectionMethod, nil, codes.Unauthenticated},
		{"MissingAuthHeader", "secret", reflectionMethod, metadata.Pairs("other", "value"), codes.Unauthenticated},
		{"WrongToken", "secret", reflectionMethod, metadata.Pairs("authorization", "Bearer wrong"), codes.Unauthenticated},
		{"InvalidScheme", "secret", reflectionMethod, metadata.Pairs("authorization", "Basic secret"), codes.Unauthenticated},
		{"CorrectToken", "secret", reflectionMethod, metadata.Pairs("authorization", "Bearer secret"), codes.OK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			resp, err := AuthInterceptor(tc.token)(ctx, nil, unaryInfo(tc.method), stubHandler)
			if got := status.Code(err); got != tc.want {
				t.Fatalf("code = %v, want %v (err %v)", got, tc.want, err)
			}
			if tc.want == codes.OK && resp != "ok" {
				t.Fatalf("resp = %v", resp)
			}
		})
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	called := false
	handler := func(any, grpc.ServerStream) error {
		called = true
		return nil
	}
	interceptor := StreamAuthInterceptor("secret")

	err := interceptor(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}, handler)
	if err != nil || !called {
		t.Fatalf("health watch: err=%v called=%v", err, called)
	}

	called = false
	err = interceptor(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: reflectionMethod}, handler)
	if status.Code(err) != codes.Unauthenticated || called {
		t.Fatalf("reflection without token: err=%v called=%v", err, called)
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer secret"))
	err = interceptor(nil, fakeStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: reflectionMethod}, handler)
	if err != nil || !called {
		t.Fatalf("reflection with token: err=%v called=%v", err, called)
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	_, err := RecoveryInterceptor(context.Background(), nil, unaryInfo(reflectionMethod), func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}

	err = StreamRecoveryInterceptor(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: reflectionMethod}, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("stream code = %v, want Internal", status.Code(err))
	}
}

// --- AuthMiddleware tests ---

// trustEcho reports whether the request reached the handler as trusted.
var trustEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if isTrusted(r.Context()) {
		w.Header().Set("X-Trusted", "1")
	}
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	for _, tc := range []struct {
		name        string
		token       string
		method      string
		path        string
		auth        string
		remote      string
		wantCode    int
		wantTrusted bool
	}{
		{"NoHeader", "secret", "GET", "/v1/mode", "", "", http.StatusUnauthorized, false},
		{"WrongToken", "secret", "GET", "/v1/mode", "Bearer wrong", "", http.StatusUnauthorized, false},
		{"InvalidScheme", "secret", "GET", "/v1/mode", "Basic secret", "", http.StatusUnauthorized, false},
		{"CorrectToken", "secret", "GET", "/v1/mode", "Bearer secret", "", http.StatusOK, true},
		{"HealthExempt", "secret", "GET", "/v1/health", "", "", http.StatusOK, false},
		{"ChatExempt", "secret", "POST", "/v1/chat", "", "", http.StatusOK, false},
		{"SelfRestrictExempt", "secret", "POST", "/v1/restrictions", "", "", http.StatusOK, false},
		{"ProbeExempt", "secret", "GET", "/generate_204", "", "", http.StatusOK, false},
		{"ListRestrictionsNeedsToken", "secret", "GET", "/v1/restrictions", "", "", http.StatusUnauthorized, false},
		{"ExemptWithBadTokenUntrusted", "secret", "POST", "/v1/chat", "Bearer wrong", "", http.StatusOK, false},
		{"DisabledLAN", "", "PUT", "/v1/mode", "", "", http.StatusOK, false},
		{"DisabledLoopback", "", "PUT", "/v1/mode", "", "127.0.0.1:5000", http.StatusOK, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			if tc.remote != "" {
				req.RemoteAddr = tc.remote
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tc.token, trustEcho).ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tc.wantCode, rec.Body.String())
			}
			if got := rec.Header().Get("X-Trusted") == "1"; got != tc.wantTrusted {
				t.Fatalf("trusted = %v, want %v", got, tc.wantTrusted)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	seen := map[string]bool{}
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
		id := rec.Header().Get("X-Request-ID")
		if !strings.HasPrefix(id, "rq-") {
			t.Fatalf("X-Request-ID = %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}
