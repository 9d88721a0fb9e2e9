package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
)

// RequireSession rejects requests without a valid bearer session token and
// attaches the verified claims to the request context for next.
func RequireSession(engine *custodyauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, custodyauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, custodyauth.ErrUnauthorized)
				return
			}

			claims, err := engine.VerifySession(token)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := custodyauth.WithSession(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientMeta records the caller's address and User-Agent on the request
// context so the engine can throttle per IP and fill audit records.
func ClientMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := custodyauth.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		ctx = custodyauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ErrorBody is the JSON error envelope shared with the HTTP API.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewErrorBody builds the envelope for err. The message is the generic status
// text so rejections never reveal which check failed.
func NewErrorBody(err error) (int, ErrorBody) {
	status := custodyauth.HTTPStatus(err)
	var body ErrorBody
	body.Error.Code = custodyauth.ErrorCode(err)
	body.Error.Message = http.StatusText(status)
	return status, body
}

func writeError(w http.ResponseWriter, err error) {
	status, body := NewErrorBody(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
