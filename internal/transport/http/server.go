// transport/http содержит HTTP-эндпоинты обмена учётных данных на токены.
// Здесь выполняется только разбор запроса и маппинг данных и ошибок доменного
// слоя (service) в HTTP. Вся валидация и бизнес-логика находятся в пакете service.
//
// Принципы:
//   - Контекст запроса прокидывается в сервис без потерь;
//   - Ошибки сервиса явно транслируются в статусы:
//   - ErrMissingCredentials/ErrMissingRefreshToken/ErrUnsupportedGrantType/
//     ErrInvalidSSHPayload/ErrInvalidSSHKey -> 400 Bad Request;
//   - ErrUnknownUser/ErrPasswordMismatch/ErrInvalidRefreshToken/ErrTokenExpired/
//     ErrUserNotFound/ErrInvalidAccessToken/ErrStaleSSHPayload/
//     ErrSSHSignatureMismatch -> 401 Unauthorized;
//   - ErrUnknownSSHKey -> 404 (эндпоинт проверки ключа);
//   - иные ошибки -> 500 c единым безопасным сообщением.
//
// Безопасность:
//   - Каждый ответ с токенами уходит с Cache-Control: no-store и Pragma:
//     no-cache — токены не должны оседать в кэшах;
//   - Для 500 наружу не утекают детали внутренних ошибок; подробности должны
//     попадать в логи через middleware на уровне сервера.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dispatchcore/auth-service/internal/models"
	"github.com/dispatchcore/auth-service/internal/service"
)

// Server — HTTP-слой над сервисом аутентификации.
type Server struct {
	service *service.Service
}

// NewServer создаёт HTTP-сервер авторизации поверх сервисного слоя.
func NewServer(service *service.Service) *Server {
	return &Server{service: service}
}

// Routes регистрирует эндпоинты на новом ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /v1/auth/token", s.handleRefresh)
	mux.HandleFunc("POST /v1/auth/ssh_authorize", s.handleSSHAuthorize)
	mux.HandleFunc("POST /v1/auth/oauth2", s.handleOAuth2)
	mux.HandleFunc("GET /v1/auth/test", s.handleTest)
	mux.HandleFunc("POST /v1/auth/validate/ssh_key", s.handleValidateSSHKey)

	return mux
}

// tokenEnvelope — конверт успешной выдачи; набор полей фиксирован.
type tokenEnvelope struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAuthorize обменивает username+password на пару токенов.
// Поля берутся из тела формы либо, как в исходном API, из одноимённых
// заголовков.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	username, password := credentialsFrom(r)

	tp, _, err := s.service.CredentialsExchange(r.Context(), username, password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeTokenPair(w, tp)
}

// handleRefresh обменивает refresh-токен из заголовка на новую пару,
// одноразово потребляя предъявленный.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	old := r.Header.Get("refresh-token")

	tp, _, err := s.service.RefreshExchange(r.Context(), old)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeTokenPair(w, tp)
}

type sshAuthorizeRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// handleSSHAuthorize обменивает подписанный SSH-ключом payload на пару токенов.
func (s *Server) handleSSHAuthorize(w http.ResponseWriter, r *http.Request) {
	var req sshAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tp, _, err := s.service.SSHExchange(r.Context(), req.Payload, req.Signature)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeTokenPair(w, tp)
}

// handleOAuth2 выполняет oauth2-грант (password или refresh_token);
// параметры — в теле формы, как предписывает RFC 6749.
func (s *Server) handleOAuth2(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tp, _, err := s.service.OAuth2Exchange(r.Context(), service.OAuth2Request{
		GrantType:    r.PostFormValue("grant_type"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		RefreshToken: r.PostFormValue("refresh_token"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeTokenPair(w, tp)
}

// handleTest — самопроверка access-токена: 204 для действующего, 401 иначе.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	if _, _, err := s.service.CheckAccessToken(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type validateSSHKeyRequest struct {
	PublicKey string `json:"public_key"`
}

type validateSSHKeyResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// handleValidateSSHKey проверяет корректность и зарегистрированность ключа;
// токены не выдаёт.
func (s *Server) handleValidateSSHKey(w http.ResponseWriter, r *http.Request) {
	var req validateSSHKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	fingerprint, err := s.service.ValidateSSHKey(r.Context(), req.PublicKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(validateSSHKeyResponse{Fingerprint: fingerprint})
}

// credentialsFrom достаёт username/password из формы (x-www-form-urlencoded)
// либо из одноимённых заголовков.
func credentialsFrom(r *http.Request) (string, string) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			return r.PostFormValue("username"), r.PostFormValue("password")
		}
	}

	return r.Header.Get("username"), r.Header.Get("password")
}

// bearerToken достаёт access-токен из Authorization (с префиксом Bearer
// или без него).
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return v
	}

	return h
}

// writeTokenPair сериализует конверт выдачи; заголовки запрещают кэширование
// ответа с токенами.
func writeTokenPair(w http.ResponseWriter, tp *models.TokenPair) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(tokenEnvelope{
		AccessToken:  tp.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    tp.ExpiresIn(time.Now().UTC()),
		RefreshToken: tp.RefreshToken,
	})
}

// writeServiceError транслирует ошибку сервисного слоя в HTTP-статус.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrMissingCredentials),
		errors.Is(err, service.ErrMissingRefreshToken),
		errors.Is(err, service.ErrUnsupportedGrantType),
		errors.Is(err, service.ErrInvalidSSHPayload),
		errors.Is(err, service.ErrInvalidSSHKey):
		writeError(w, http.StatusBadRequest, reason(err))
	case errors.Is(err, service.ErrUnknownUser),
		errors.Is(err, service.ErrPasswordMismatch),
		errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrInvalidAccessToken),
		errors.Is(err, service.ErrStaleSSHPayload),
		errors.Is(err, service.ErrSSHSignatureMismatch):
		writeError(w, http.StatusUnauthorized, reason(err))
	case errors.Is(err, service.ErrUnknownSSHKey):
		writeError(w, http.StatusNotFound, reason(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// reason возвращает текст сентинельной ошибки без цепочки op-обёрток.
func reason(err error) string {
	for _, sentinel := range []error{
		service.ErrMissingCredentials,
		service.ErrMissingRefreshToken,
		service.ErrUnsupportedGrantType,
		service.ErrInvalidSSHPayload,
		service.ErrInvalidSSHKey,
		service.ErrUnknownUser,
		service.ErrPasswordMismatch,
		service.ErrInvalidRefreshToken,
		service.ErrTokenExpired,
		service.ErrUserNotFound,
		service.ErrInvalidAccessToken,
		service.ErrStaleSSHPayload,
		service.ErrSSHSignatureMismatch,
		service.ErrUnknownSSHKey,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return "internal server error"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
