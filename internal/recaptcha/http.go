package recaptcha

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// TokenHeader carries the token for requests gated by RequireHuman.
const TokenHeader = "X-Recaptcha-Token"

type verifyRequest struct {
	Token string `json:"token"`
}

// Handler serves POST {"token": "..."} and answers with the Result.
func (v *Verifier) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeResult(w, http.StatusMethodNotAllowed, Result{Error: "method not allowed"})
			return
		}

		var body verifyRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 8<<10)).Decode(&body); err != nil || strings.TrimSpace(body.Token) == "" {
			writeResult(w, http.StatusBadRequest, Result{Error: "token is required", Reason: ReasonVerificationFailed})
			return
		}

		res := v.Verify(r.Context(), body.Token)
		status := http.StatusOK
		if !res.Success {
			status = http.StatusBadRequest
		}
		writeResult(w, status, res)
	})
}

// RequireHuman rejects requests whose X-Recaptcha-Token does not verify.
func (v *Verifier) RequireHuman(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(TokenHeader))
		if token == "" {
			writeResult(w, http.StatusForbidden, Result{Error: "reCAPTCHA token required", Reason: ReasonVerificationFailed})
			return
		}
		if res := v.Verify(r.Context(), token); !res.Success {
			writeResult(w, http.StatusForbidden, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeResult(w http.ResponseWriter, status int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
