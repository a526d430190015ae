package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth 创建 JWT 鉴权中间件，支持 JWKS（远程公钥）与 HMAC（本地密钥）。
// 验证成功后将 token 的 sub 作为 owner_id 存入 context。
func JWTAuth(jwksURL, hmacSecret string) func(http.Handler) http.Handler {
	var jwks *keyfunc.JWKS

	if jwksURL != "" {
		var err error
		// 初始化 JWKS，包含自动刷新
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				fmt.Printf("[AuthError] JWKS refresh failed: %v\n", err)
			},
		})
		if err != nil {
			fmt.Printf("[AuthWarning] JWKS init failed (%s): %v. Falling back to HMAC only.\n", jwksURL, err)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := credentialFromHeader(r, "Bearer ")
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing or malformed Authorization header, expected: Bearer <token>")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
					if hmacSecret != "" {
						return []byte(hmacSecret), nil
					}
					return nil, fmt.Errorf("hmac token but no secret configured")
				}
				if jwks != nil {
					return jwks.Keyfunc(token)
				}
				return nil, fmt.Errorf("no suitable verification method")
			})
			if err != nil || !token.Valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeAuthError(w, http.StatusUnauthorized, "token missing sub claim")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
