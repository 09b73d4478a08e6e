package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/handlers"
	"github.com/akolanti/kbchat/internal/middleware"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"github.com/go-chi/chi/v5"
)

var (
	server  *http.Server
	_logger *logger_i.Logger
)

type ShutdownParams struct {
	GracefulShutdown chan os.Signal
	StopExecution    chan bool
	WorkerStop       chan bool
	Group            *sync.WaitGroup
	CloseServices    context.CancelFunc
}

// CreateServer blocks serving HTTP until the server is shut down.
func CreateServer(listenAddr string, mcpHandler http.Handler) {
	_logger = logger_i.NewLogger("Server")

	r := utils.GetRouter()
	RegisterRoutes(r.Router, mcpHandler)

	server = newHTTPServer(listenAddr, r.Router)

	_logger.Info("Server is listening at", "address", listenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_logger.Error("Server crashed", "error :", err.Error(), "addr", listenAddr)
	}
}

func newHTTPServer(listenAddr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
}

func RegisterRoutes(router chi.Router, mcpHandler http.Handler) {
	router.Get("/health", handlers.GetHandler)

	router.Post("/documents", middleware.Wrap(handlers.PostDocumentHandler))
	router.Get("/documents", middleware.Wrap(handlers.ListDocumentsHandler))
	router.Delete("/documents/{id}", middleware.Wrap(handlers.DeleteDocumentHandler))
	router.Put("/documents/{id}/active", middleware.Wrap(handlers.SetDocumentActiveHandler))
	router.Get("/status/{id}", middleware.Wrap(handlers.GetStatusHandler))
	router.Get("/jobs", middleware.Wrap(handlers.ListJobsHandler))

	router.Route("/knowledge-bases", func(kb chi.Router) {
		kb.Post("/", middleware.Wrap(handlers.CreateKnowledgeBaseHandler))
		kb.Get("/", middleware.Wrap(handlers.ListKnowledgeBasesHandler))
		kb.Get("/{id}", middleware.Wrap(handlers.GetKnowledgeBaseHandler))
		kb.Put("/{id}", middleware.Wrap(handlers.UpdateKnowledgeBaseHandler))
		kb.Post("/{id}/documents", middleware.Wrap(handlers.AddKnowledgeBaseDocumentHandler))
		kb.Delete("/{id}/documents/{docId}", middleware.Wrap(handlers.RemoveKnowledgeBaseDocumentHandler))
		kb.Get("/{id}/shares", middleware.Wrap(handlers.ListSharesHandler))
		kb.Post("/{id}/shares", middleware.Wrap(handlers.ShareKnowledgeBaseHandler))
		kb.Delete("/{id}/shares/{email}", middleware.Wrap(handlers.RevokeShareHandler))
		kb.Put("/{id}/pin", middleware.Wrap(handlers.PinKnowledgeBaseHandler))
		kb.Get("/{id}/activity", middleware.Wrap(handlers.ActivityHandler))
	})

	router.Post("/chat", middleware.Wrap(handlers.ChatHandler))
	router.Post("/embed/chat", middleware.WrapEmbed(handlers.EmbedChatHandler))
	router.Get("/chats/{id}", middleware.Wrap(handlers.GetChatHandler))
	router.Put("/chats/{id}/share", middleware.Wrap(handlers.ShareChatHandler))

	router.Get("/credits", middleware.Wrap(handlers.GetCreditsHandler))
	router.Post("/admin/credits", middleware.WrapAdmin(handlers.GrantCreditsHandler))

	if mcpHandler != nil {
		router.Handle("/mcp", middleware.WrapHandler(mcpHandler))
	}
}

func ShutDownHandler(shutdownParams ShutdownParams) {
	state := <-shutdownParams.GracefulShutdown
	_logger.Info("Server is shutting down", "signal", state.String())

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownContextTimeout)
	defer cancel()

	done := make(chan struct{})

	go func() {
		server.SetKeepAlivesEnabled(false)

		if err := server.Shutdown(ctx); err != nil {
			_logger.Error("Could not shutdown gracefully", "err", err)
		}

		//close workers
		close(shutdownParams.WorkerStop)
		shutdownParams.Group.Wait()
		shutdownParams.CloseServices()
		close(shutdownParams.StopExecution)
		close(done)
	}()

	select {
	case <-done:
		_logger.Info("Gracefully is shutting down")
	case <-ctx.Done():
		_logger.Info("Force Shut down")
		os.Exit(1)
	}
}
