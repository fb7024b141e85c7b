package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/httpx"
)

const oidcMeterName = "github.com/storefront/api/internal/platform/auth"

// ServiceIdentity is the workload behind a verified Google-signed OIDC token, typically Cloud
// Scheduler calling the internal endpoints.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext returns the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator checks RS256 tokens against a JWKS cache.
type OIDCValidator struct {
	keys     *JWKSCache
	logger   *zap.Logger
	outcomes metric.Int64Counter
}

// OIDCOption customises an OIDCValidator.
type OIDCOption func(*oidcOptions)

type oidcOptions struct {
	logger *zap.Logger
	meter  metric.Meter
}

// WithOIDCLogger sets the logger.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(o *oidcOptions) { o.logger = logger }
}

// WithOIDCMeter records verification outcomes on meter.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(o *oidcOptions) { o.meter = meter }
}

// NewOIDCValidator builds a validator over keys.
func NewOIDCValidator(keys *JWKSCache, opts ...OIDCOption) (*OIDCValidator, error) {
	if keys == nil {
		return nil, errors.New("oidc validator: jwks cache is required")
	}
	o := oidcOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(oidcMeterName)
	}
	outcomes, err := o.meter.Int64Counter("auth.oidc.verifications",
		metric.WithDescription("OIDC token verifications by outcome"))
	if err != nil {
		return nil, fmt.Errorf("oidc validator: register counter: %w", err)
	}
	return &OIDCValidator{keys: keys, logger: o.logger.Named("oidc"), outcomes: outcomes}, nil
}

// RequireOIDC admits requests bearing a token whose audience is audience and whose issuer is
// one of issuers (any issuer when the list is empty).
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" {
				v.reject(ctx, w, "audience_not_configured", http.StatusServiceUnavailable, "oidc audience not configured", nil)
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				v.reject(ctx, w, "token_missing", http.StatusUnauthorized, "oidc token missing", nil)
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
				kid, _ := token.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("token missing kid header")
				}
				return v.keys.Key(ctx, kid)
			})
			if err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.reject(ctx, w, "jwks_unavailable", http.StatusServiceUnavailable, "oidc verification unavailable", err)
					return
				}
				v.reject(ctx, w, "token_invalid", http.StatusUnauthorized, "oidc token verification failed", err)
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
				v.reject(ctx, w, "issuer_mismatch", http.StatusUnauthorized, "oidc issuer mismatch", nil)
				return
			}
			if !claims.VerifyAudience(audience, true) {
				v.reject(ctx, w, "audience_mismatch", http.StatusUnauthorized, "oidc audience mismatch", nil)
				return
			}

			identity := &ServiceIdentity{Issuer: issuer}
			identity.Subject, _ = claims["sub"].(string)
			identity.Email, _ = claims["email"].(string)
			v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityKey{}, identity)))
		})
	}
}

func (v *OIDCValidator) reject(ctx context.Context, w http.ResponseWriter, reason string, status int, message string, cause error) {
	v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", reason)))
	if cause != nil {
		v.logger.Warn("oidc verification failed", zap.String("reason", reason), zap.Error(cause))
	}
	code := "invalid_token"
	if status == http.StatusServiceUnavailable {
		code = "verification_unavailable"
	} else if reason == "token_missing" {
		code = "unauthenticated"
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
