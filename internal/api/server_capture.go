package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/apicapture/internal/capture"
	"github.com/dgnsrekt/apicapture/internal/types"
)

type statusOutput struct {
	Body capture.Status
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerCaptureHandlers(api huma.API, svc Capture) {
	huma.Register(api, huma.Operation{OperationID: "capture-start", Method: http.MethodPost, Path: "/api/v1/capture/start", Summary: "Start capturing API traffic on the active tab", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.Start(ctx); err != nil {
				return nil, mapErr(err)
			}
			return &statusOutput{Body: svc.Status()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "capture-stop", Method: http.MethodPost, Path: "/api/v1/capture/stop", Summary: "Stop capturing; the session is saved once pending responses finish", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			svc.Stop(ctx)
			return &statusOutput{Body: svc.Status()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "capture-status", Method: http.MethodGet, Path: "/api/v1/capture/status", Summary: "Get capture session status", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.Status()}, nil
		})

	type exportOutput struct {
		Body types.ExportResult
	}
	huma.Register(api, huma.Operation{OperationID: "capture-export", Method: http.MethodPost, Path: "/api/v1/capture/export", Summary: "Retry saving records kept after a failed export", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*exportOutput, error) {
			res, err := svc.Export(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &exportOutput{Body: res}, nil
		})

	type recordInput struct {
		RequestID string `path:"request_id" doc:"DevTools request id"`
	}
	type recordOutput struct {
		Body *types.RecordView
	}
	huma.Register(api, huma.Operation{OperationID: "capture-record", Method: http.MethodGet, Path: "/api/v1/capture/records/{request_id}", Summary: "Get one record of the current session", Tags: []string{"Capture"}},
		func(ctx context.Context, input *recordInput) (*recordOutput, error) {
			rec, ok := svc.Record(input.RequestID)
			if !ok {
				return nil, huma.Error404NotFound("record not found: " + input.RequestID)
			}
			return &recordOutput{Body: rec.View()}, nil
		})
}
