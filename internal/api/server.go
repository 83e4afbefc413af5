package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/apicapture/internal/capture"
	"github.com/dgnsrekt/apicapture/internal/relay"
	"github.com/dgnsrekt/apicapture/internal/storage"
	"github.com/dgnsrekt/apicapture/internal/types"
)

// Capture is the engine surface the controller drives.
type Capture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Export(ctx context.Context) (types.ExportResult, error)
	Status() capture.Status
	Record(id string) (*types.Record, bool)
}

// ExportStore browses delivered artifacts. It is nil when exports go to
// the rotating journal.
type ExportStore interface {
	List() ([]storage.ExportMeta, error)
	Read(name string) ([]byte, error)
	Delete(name string) error
}

var errNoExportStore = errors.New("export browsing needs CAPTURE_EXPORT_FORMAT=json")

// NewServer builds the controller API. broker may be nil, which disables
// the event stream routes.
func NewServer(svc Capture, exports ExportStore, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("API Capture Controller", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		snapshot := func() (relay.Event, bool) {
			evt, err := relay.NewEvent(capture.EventState, capture.StatusEvent{
				Type:   capture.EventState,
				Status: svc.Status(),
			})
			return evt, err == nil
		}
		router.Get("/api/v1/capture/events", relay.SSEHandler(broker, snapshot))
		router.Get("/api/v1/capture/ws", relay.WebSocketHandler(broker, snapshot))
	}

	registerHealthHandlers(api)
	registerCaptureHandlers(api, svc)
	registerExportHandlers(api, exports)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *capture.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case capture.CodeValidation:
			return huma.Error409Conflict(coded.Message)
		case capture.CodeNoActiveTarget:
			return huma.Error404NotFound(coded.Message)
		case capture.CodeProtectedTarget:
			return huma.Error422UnprocessableEntity(coded.Message)
		case capture.CodeAttachFailed, capture.CodeEnableFailed, capture.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Error())
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	switch {
	case errors.Is(err, storage.ErrExportNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, storage.ErrInvalidName):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, errNoExportStore):
		return huma.Error501NotImplemented(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
