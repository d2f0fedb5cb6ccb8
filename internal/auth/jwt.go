package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"playerident/internal/config"

	"github.com/dgrijalva/jwt-go"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("auth")

const tokenLifetime = 3600 * time.Minute

var ErrMissingToken = errors.New("missing bearer token")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

type AuthHandlers struct {
	Config *config.Config
}

func NewAuthHandlers(cfg *config.Config) *AuthHandlers {
	return &AuthHandlers{Config: cfg}
}

func (h *AuthHandlers) GenerateJWT(username string) (string, error) {
	expirationTime := time.Now().Add(tokenLifetime)
	claims := &Claims{
		Username: username,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Config.JwtKey)
}

// ParseToken validates the bearer token in an Authorization header value
func ParseToken(authHeader string, key []byte) (*Claims, error) {
	tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenStr == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var creds Credentials
	err := json.NewDecoder(r.Body).Decode(&creds)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid request format"})
		return
	}

	if !h.valid(creds) {
		log.Warnw("Rejected login", "username", creds.Username, "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid username or password"})
		return
	}

	tokenString, err := h.GenerateJWT(creds.Username)
	if err != nil {
		log.Errorw("Failed to sign token", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to generate token"})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"token": tokenString})
}

func (h *AuthHandlers) valid(creds Credentials) bool {
	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(h.Config.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(h.Config.Password)) == 1
	return userOK && passOK
}

func (h *AuthHandlers) CheckAuthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := ParseToken(r.Header.Get("Authorization"), h.Config.JwtKey); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}
