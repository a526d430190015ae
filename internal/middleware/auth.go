package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// OwnerContextKey 是存储在 context 中的 owner ID 的键。
type OwnerContextKey struct{}

// GetOwnerID 从 context 中获取经过鉴权的 owner ID。
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(OwnerContextKey{}).(string); ok {
		return v
	}
	return ""
}

// APIKeyAuth 创建 API Key 鉴权中间件，请求头格式 Authorization: ApiKey <token>。
// 验证成功后将 key 本身作为 owner_id 存入 context。
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	keySet := make(map[string]struct{}, len(validKeys))
	for _, key := range validKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keySet[trimmed] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := credentialFromHeader(r, "ApiKey ")
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing or malformed Authorization header, expected: ApiKey <token>")
				return
			}

			if _, valid := keySet[apiKey]; !valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentialFromHeader 提取 Authorization 头中指定前缀后的凭证。
func credentialFromHeader(r *http.Request, prefix string) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	credential := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return credential, credential != ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `ApiKey realm="scangate API"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
