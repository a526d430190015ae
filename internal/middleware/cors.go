package middleware

import (
	"net/http"
	"strings"
)

// CORS 按来源允许列表生成跨域中间件。列表含 "*" 时放开全部来源。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			allowAll = true
		default:
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			grant := ""
			switch {
			case origin == "":
			case allowAll:
				grant = "*"
			default:
				if _, ok := allowed[origin]; ok {
					grant = origin
				}
			}

			if grant != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", grant)
				h.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Max-Age", "600")
				if grant != "*" {
					h.Add("Vary", "Origin")
					h.Set("Access-Control-Allow-Credentials", "true")
				}

				// 预检请求到此结束
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
