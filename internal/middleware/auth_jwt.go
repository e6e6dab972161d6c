package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"ecorder/internal/config"
	"ecorder/internal/domain/model"
	"ecorder/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxIdentityKey     = "identity"      // usecase.Identity
	CtxTokenVersionKey = "token_version" // int
)

// アクセストークンのclaims（発行は認証サービス側）
// subは数値でも文字列でも受ける
type AccessClaims struct {
	Subject      json.Number `json:"sub"`
	Role         model.Role  `json:"role"`
	TokenVersion int         `json:"tv"`
	jwt.RegisteredClaims
}

// claimsから注文APIの呼び出し元を作る
func (c AccessClaims) Identity() (usecase.Identity, error) {
	userID, err := c.Subject.Int64()
	if err != nil || userID <= 0 {
		return usecase.Identity{}, errors.New("invalid sub")
	}
	role, err := model.ParseRole(string(c.Role))
	if err != nil {
		return usecase.Identity{}, err
	}
	if c.TokenVersion < 0 {
		return usecase.Identity{}, errors.New("invalid tv")
	}
	return usecase.Identity{UserID: userID, Role: role}, nil
}

// bearerAuth用のJWT検証ミドルウェア。
// 検証できたら呼び出し元(Identity)とtvをcontextに入れる
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawToken, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			var claims AccessClaims
			token, err := parser.ParseWithClaims(rawToken, &claims, keyFunc)
			if err != nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			id, err := claims.Identity()
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			c.Set(CtxIdentityKey, id)
			c.Set(CtxTokenVersionKey, claims.TokenVersion)
			return next(c)
		}
	}
}

// AuthJWTが入れた呼び出し元
func IdentityFrom(c echo.Context) (usecase.Identity, bool) {
	id, ok := c.Get(CtxIdentityKey).(usecase.Identity)
	if !ok || id.UserID <= 0 {
		return usecase.Identity{}, false
	}
	return id, true
}

// "Bearer xxx" からtokenを抜く
func bearerToken(authz string) (string, bool) {
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	return raw, raw != ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
