package utils

import (
	"context"
	"net/http"
	"strings"
	"sync"

	_ "github.com/akolanti/kbchat/cmd/api/docs"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggo/http-swagger"
)

var once sync.Once
var router *chi.Mux

func GetNewUUID() string {
	return uuid.New().String()
}

type RouterClient struct {
	Router *chi.Mux
}

func GetChiURLParam(request *http.Request, key string) string {
	return chi.URLParam(request, key)
}

// GetRouter returns the shared router with swagger and /metrics already mounted.
func GetRouter() RouterClient {
	once.Do(func() {
		router = NewRouter()
	})

	return RouterClient{Router: router}
}

// NewRouter builds an unshared router, used by tests that need a clean route table.
func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	InitSwagger(r)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func InitSwagger(r *chi.Mux) {
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
	})
	r.Get("/swagger/*", httpSwagger.WrapHandler)
}

// Dedupe keeps the first occurrence of every non-empty value, preserving order.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// WithCaller stores the identity the auth layer handed over.
func WithCaller(ctx context.Context, caller commonModels.Caller) context.Context {
	return context.WithValue(ctx, config.CALLER_KEY, caller)
}

// CallerFrom returns the anonymous caller when none was attached.
func CallerFrom(ctx context.Context) commonModels.Caller {
	if caller, ok := ctx.Value(config.CALLER_KEY).(commonModels.Caller); ok {
		return caller
	}
	return commonModels.Caller{}
}

func TraceFrom(ctx context.Context) string {
	trace, _ := ctx.Value(config.TRACE_ID_KEY).(string)
	return trace
}
