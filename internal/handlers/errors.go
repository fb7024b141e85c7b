package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxJSONBodySize = 16 * 1024

// writeServiceError renders a fulfillment service failure with its stable code. Failed cart lines
// travel in the failed_products detail so clients can show what could not be honored.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := services.StatusCode(err)
	code := services.ErrorCode(err)
	message := serviceErrorMessage(err, status)

	apiErr := httpx.NewError(code, message, status)
	if failed := services.FailedLinesOf(err); len(failed) > 0 {
		apiErr = apiErr.WithDetails(map[string]any{
			"failed_products": failedLinePayloads(failed),
		})
	}
	httpx.WriteError(ctx, w, apiErr)
}

func serviceErrorMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		if status == http.StatusServiceUnavailable {
			return "dependency temporarily unavailable"
		}
		return "internal server error"
	}
	var svcErr *services.Error
	if errors.As(err, &svcErr) && strings.TrimSpace(svcErr.Message) != "" {
		return svcErr.Message
	}
	return http.StatusText(status)
}

// principalFromRequest returns the authenticated caller, writing 401 when absent.
func principalFromRequest(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Principal{}, false
	}
	return services.Principal{
		UserID: strings.TrimSpace(identity.UID),
		Email:  strings.TrimSpace(identity.Email),
		Roles:  append([]string(nil), identity.Roles...),
	}, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewErrorf(name+"_service_unavailable", http.StatusServiceUnavailable, "%s service unavailable", name))
}

func invalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}
