package server

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestSubmitQuestionRateLimit(testContext *testing.T) {
	server := newTestServer(testContext)
	sessionID := server.createSession(testContext, "host-1", "Q&A")

	body := func(i int) string {
		return fmt.Sprintf(`{"participant_token":%q,"content":"question %d"}`, tokenAlpha, i)
	}

	for i := 0; i < 10; i++ {
		recorder := server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body(i))
		if recorder.Code != http.StatusCreated {
			testContext.Fatalf("request %d within quota failed with %d: %s", i, recorder.Code, recorder.Body.String())
		}
		wantRemaining := fmt.Sprintf("%d", 10-i-1)
		if got := recorder.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			testContext.Fatalf("request %d: remaining header %q, want %q", i, got, wantRemaining)
		}
	}

	recorder := server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body(10))
	if recorder.Code != http.StatusTooManyRequests {
		testContext.Fatalf("request over quota got %d, want %d", recorder.Code, http.StatusTooManyRequests)
	}
	if recorder.Header().Get("Retry-After") == "" {
		testContext.Fatalf("rejected request missing Retry-After header")
	}
	if recorder.Header().Get("X-RateLimit-Remaining") != "0" {
		testContext.Fatalf("rejected request should report zero remaining")
	}
	payload := decodeJSON(testContext, recorder)
	if payload["error"] != "rate_limited" {
		testContext.Fatalf("unexpected body: %v", payload)
	}

	// The window slides: once the oldest entry ages out, submissions resume.
	server.clock.Advance(61 * time.Second)
	recorder = server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body(11))
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("request after window expiry failed with %d", recorder.Code)
	}
}

func TestRejectedRequestsDoNotExtendTheWindow(testContext *testing.T) {
	server := newTestServer(testContext)
	sessionID := server.createSession(testContext, "host-1", "Q&A")

	body := fmt.Sprintf(`{"participant_token":%q,"content":"again"}`, tokenAlpha)

	for i := 0; i < 10; i++ {
		server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body)
	}

	// Hammering while limited must not push recovery further out.
	for i := 0; i < 5; i++ {
		server.clock.Advance(2 * time.Second)
		recorder := server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body)
		if recorder.Code != http.StatusTooManyRequests {
			testContext.Fatalf("expected continued rejection, got %d", recorder.Code)
		}
	}

	server.clock.Advance(51 * time.Second)
	recorder := server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body)
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("window should have recovered on schedule, got %d", recorder.Code)
	}
}

func TestHostMutationsAreRateLimited(testContext *testing.T) {
	server := newTestServer(testContext)
	hostToken := server.hostToken(testContext, "host-1")
	sessionID := server.createSession(testContext, "host-1", "Q&A")
	questionID := server.submitQuestion(testContext, sessionID, "can hosts be throttled?")
	server.do(testContext, http.MethodPost, "/questions/"+questionID+"/moderate", hostToken,
		`{"status":"approved"}`)

	// createSession and the moderation above already consumed two of the thirty
	// host-mutation slots.
	for i := 0; i < 28; i++ {
		recorder := server.do(testContext, http.MethodPost, "/questions/"+questionID+"/status", hostToken,
			`{"status":"being_answered"}`)
		if recorder.Code == http.StatusTooManyRequests {
			testContext.Fatalf("request %d within the host quota was rejected", i)
		}
	}

	recorder := server.do(testContext, http.MethodPost, "/questions/"+questionID+"/status", hostToken,
		`{"status":"answered"}`)
	if recorder.Code != http.StatusTooManyRequests {
		testContext.Fatalf("host mutation over quota got %d, want %d", recorder.Code, http.StatusTooManyRequests)
	}
	if recorder.Header().Get("Retry-After") == "" {
		testContext.Fatalf("rejected host mutation missing Retry-After header")
	}

	// Session create and close share the same quota.
	recorder = server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/close", hostToken, "{}")
	if recorder.Code != http.StatusTooManyRequests {
		testContext.Fatalf("session close over quota got %d, want %d", recorder.Code, http.StatusTooManyRequests)
	}
	recorder = server.do(testContext, http.MethodPost, "/sessions", hostToken, `{"title":"another"}`)
	if recorder.Code != http.StatusTooManyRequests {
		testContext.Fatalf("session create over quota got %d, want %d", recorder.Code, http.StatusTooManyRequests)
	}

	// Host reads stay ungated.
	recorder = server.do(testContext, http.MethodGet, "/sessions/"+sessionID+"/questions/all", hostToken, "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("host listing should not be rate limited, got %d", recorder.Code)
	}

	server.clock.Advance(61 * time.Second)
	recorder = server.do(testContext, http.MethodPost, "/questions/"+questionID+"/status", hostToken,
		`{"status":"answered"}`)
	if recorder.Code == http.StatusTooManyRequests {
		testContext.Fatalf("host quota should recover after the window elapses")
	}
}

func TestVoteAndQuestionQuotasAreIndependent(testContext *testing.T) {
	server := newTestServer(testContext)
	hostToken := server.hostToken(testContext, "host-1")
	sessionID := server.createSession(testContext, "host-1", "Q&A")
	questionID := server.submitQuestion(testContext, sessionID, "independent quotas?")
	server.do(testContext, http.MethodPost, "/questions/"+questionID+"/moderate", hostToken,
		`{"status":"approved"}`)

	// Exhaust the question quota; one submission already happened above.
	for i := 0; i < 9; i++ {
		server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "",
			fmt.Sprintf(`{"participant_token":%q,"content":"filler %d"}`, tokenAlpha, i))
	}
	recorder := server.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "",
		fmt.Sprintf(`{"participant_token":%q,"content":"over quota"}`, tokenAlpha))
	if recorder.Code != http.StatusTooManyRequests {
		testContext.Fatalf("question quota should be exhausted, got %d", recorder.Code)
	}

	// Voting runs on its own quota and still succeeds.
	recorder = server.do(testContext, http.MethodPost, "/questions/"+questionID+"/vote", "",
		fmt.Sprintf(`{"participant_token":%q}`, tokenAlpha))
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("vote blocked by the question quota, got %d", recorder.Code)
	}
}
