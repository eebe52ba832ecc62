// auth.go — JWT middleware для аутентификации загрузок и модерации.
// Поддерживает два источника токенов:
//   - внешний OIDC-провайдер: RS256 + JWKS (с фоновым обновлением ключей);
//   - локальные токены: HS256 с общим секретом.
//
// При настроенном провайдере сначала проверяется удалённая подпись,
// при любой ошибке — fallback на локальный секрет. Результаты проверки
// кэшируются в LRU с TTL, чтобы не валидировать один токен на каждый запрос.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIdentity — ключ для Identity в контексте запроса.
const ContextKeyIdentity contextKey = "auth_identity"

// IdentitySource — источник аутентификации.
type IdentitySource string

const (
	// SourceRemote — токен подписан внешним OIDC-провайдером (RS256/JWKS)
	SourceRemote IdentitySource = "remote"
	// SourceLocal — токен подписан локальным секретом (HS256)
	SourceLocal IdentitySource = "local"
	// SourceAnonymous — запрос без валидного токена (допустим для загрузки)
	SourceAnonymous IdentitySource = "anonymous"
)

// Identity — результат проверки токена.
type Identity struct {
	// Source — откуда пришла аутентификация
	Source IdentitySource
	// Subject — идентификатор пользователя из токена
	Subject string
	// Email — email из claims, если присутствует
	Email string
	// Name — отображаемое имя из claims, если присутствует
	Name string
}

// IsAnonymous возвращает true для запроса без аутентификации.
func (i Identity) IsAnonymous() bool {
	return i.Source == SourceAnonymous
}

// anonymous — идентичность запроса без токена.
var anonymous = Identity{Source: SourceAnonymous}

// Prometheus-метрики кэша токенов.
var (
	tokenCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_token_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш проверенных токенов.",
	})
	tokenCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ps_token_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша проверенных токенов.",
	})
)

// remoteClaims — claims токена внешнего провайдера.
type remoteClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// localClaims — claims локального токена.
// Исторически subject мог лежать в трёх местах: sub, user_id
// или вложенный объект user.id. Проверяются в этом порядке.
type localClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	User   struct {
		ID string `json:"id"`
	} `json:"user"`
}

// subject возвращает первый непустой идентификатор пользователя.
func (c *localClaims) subject() string {
	if c.Subject != "" {
		return c.Subject
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.User.ID
}

// Verifier проверяет Bearer-токены и помещает Identity в контекст.
type Verifier struct {
	jwks     keyfunc.Keyfunc // nil, если внешний провайдер не настроен
	secret   []byte
	audience string
	issuer   string
	leeway   time.Duration
	cache    *expirable.LRU[string, Identity]
	logger   *slog.Logger
}

// VerifierConfig — параметры создания Verifier.
type VerifierConfig struct {
	// URL JWKS endpoint внешнего провайдера ("" = провайдер не настроен)
	JWKSURL string
	// Ожидаемый audience удалённых токенов
	Audience string
	// Ожидаемый issuer удалённых токенов
	Issuer string
	// Секрет для локальных HS256-токенов
	JWTSecret string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	Leeway time.Duration
	// Размер LRU-кэша токенов
	CacheSize int
	// TTL записи в кэше токенов
	CacheTTL time.Duration
}

// NewVerifier создаёт Verifier. Если JWKSURL пуст, проверяются
// только локальные токены.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger) (*Verifier, error) {
	v := &Verifier{
		secret:   []byte(cfg.JWTSecret),
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
		leeway:   cfg.Leeway,
		cache:    expirable.NewLRU[string, Identity](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:   logger.With(slog.String("component", "verifier")),
	}

	if cfg.JWKSURL == "" {
		logger.Info("Внешний OIDC-провайдер не настроен, используются только локальные токены")
		return v, nil
	}

	// JWKS Storage с фоновым обновлением. NoErrorReturnFirstHTTPReq
	// позволяет стартовать даже если провайдер временно недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, errors.New("создание JWKS storage: " + err.Error())
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, errors.New("создание keyfunc: " + err.Error())
	}

	v.jwks = k
	return v, nil
}

// NewVerifierWithKeyfunc создаёт Verifier с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewVerifierWithKeyfunc(kf keyfunc.Keyfunc, cfg VerifierConfig, logger *slog.Logger) *Verifier {
	return &Verifier{
		jwks:     kf,
		secret:   []byte(cfg.JWTSecret),
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
		leeway:   cfg.Leeway,
		cache:    expirable.NewLRU[string, Identity](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:   logger.With(slog.String("component", "verifier")),
	}
}

// extractToken достаёт токен из заголовка Authorization.
// Префикс "Bearer " отрезается; заголовок без префикса трактуется
// как сырой токен (совместимость со старыми клиентами).
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return authHeader
}

// Verify проверяет токен и возвращает Identity.
// Порядок: кэш → удалённая подпись (если настроена) → локальный секрет.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Identity, error) {
	if id, ok := v.cache.Get(tokenString); ok {
		tokenCacheHitsTotal.Inc()
		return id, nil
	}
	tokenCacheMissesTotal.Inc()

	if v.jwks != nil {
		id, err := v.verifyRemote(ctx, tokenString)
		if err == nil {
			v.cache.Add(tokenString, id)
			return id, nil
		}
		v.logger.Debug("Удалённая проверка токена не пройдена, fallback на локальный секрет",
			slog.String("error", err.Error()),
		)
	}

	id, err := v.verifyLocal(tokenString)
	if err != nil {
		return Identity{}, err
	}
	v.cache.Add(tokenString, id)
	return id, nil
}

// verifyRemote валидирует токен внешнего провайдера (RS256 + JWKS).
func (v *Verifier) verifyRemote(ctx context.Context, tokenString string) (Identity, error) {
	claims := &remoteClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, errors.New("невалидный токен")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, errors.New("отсутствует sub в токене")
	}

	return Identity{
		Source:  SourceRemote,
		Subject: subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// verifyLocal валидирует локальный HS256-токен общим секретом.
func (v *Verifier) verifyLocal(tokenString string) (Identity, error) {
	claims := &localClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, errors.New("невалидный токен")
	}

	subject := claims.subject()
	if subject == "" {
		return Identity{}, errors.New("отсутствует идентификатор пользователя в токене")
	}

	return Identity{
		Source:  SourceLocal,
		Subject: subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// Required — middleware для endpoint'ов, требующих аутентификации.
// Без валидного токена возвращает 401 c обобщённым сообщением
// (детали проверки в ответ не попадают).
func (v *Verifier) Required() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			id, err := v.Verify(r.Context(), tokenString)
			if err != nil {
				v.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional — middleware для endpoint'ов с необязательной аутентификацией.
// Невалидный или отсутствующий токен не блокирует запрос:
// в контекст помещается анонимная идентичность.
func (v *Verifier) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := anonymous

			if tokenString := extractToken(r); tokenString != "" {
				verified, err := v.Verify(r.Context(), tokenString)
				if err == nil {
					id = verified
				} else {
					v.logger.Debug("Токен отброшен, запрос продолжается анонимно",
						slog.String("error", err.Error()),
					)
				}
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext извлекает Identity из контекста запроса.
// Возвращает анонимную идентичность, если middleware не отработал.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(ContextKeyIdentity).(Identity)
	if !ok {
		return anonymous
	}
	return id
}
