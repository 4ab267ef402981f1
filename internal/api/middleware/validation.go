// validation.go — проверка входящих запросов по OpenAPI контракту.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
)

// RequestValidator — middleware проверки запросов по контракту.
// Запросы к маршрутам вне контракта пропускаются без проверки.
type RequestValidator struct {
	router  routers.Router
	options *openapi3filter.Options
	skip    []string
	logger  *slog.Logger
}

// NewRequestValidator строит маршрутизатор по контракту.
// skipPrefixes — префиксы путей, которые не проверяются (потоковая загрузка объектов).
func NewRequestValidator(doc *openapi3.T, logger *slog.Logger, skipPrefixes ...string) (*RequestValidator, error) {
	// Относительные servers не нужны: сопоставляем только пути.
	doc.Servers = nil
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("построение маршрутизатора OpenAPI: %w", err)
	}
	return &RequestValidator{
		router: router,
		options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		skip:   skipPrefixes,
		logger: logger.With(slog.String("component", "request_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware валидации.
func (v *RequestValidator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range v.skip {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				// Неизвестный маршрут или метод: ответ даст основной роутер.
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    v.options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage сокращает ошибку kin-openapi до понятного клиенту текста.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("параметр %s: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.RequestBody != nil {
			var schemaErr *openapi3.SchemaError
			if errors.As(reqErr.Err, &schemaErr) {
				field := strings.Join(schemaErr.JSONPointer(), ".")
				if field == "" {
					return "тело запроса: " + schemaErr.Reason
				}
				return fmt.Sprintf("поле %s: %s", field, schemaErr.Reason)
			}
			return "тело запроса: " + reqErr.Error()
		}
	}
	return err.Error()
}
