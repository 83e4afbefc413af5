package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/apicapture/internal/storage"
)

func registerExportHandlers(api huma.API, exports ExportStore) {
	type listOutput struct {
		Body struct {
			Exports []storage.ExportMeta `json:"exports"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-exports", Method: http.MethodGet, Path: "/api/v1/exports", Summary: "List saved capture files", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			if exports == nil {
				return nil, mapErr(errNoExportStore)
			}
			metas, err := exports.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Exports = metas
			return out, nil
		})

	type nameInput struct {
		Name string `path:"name" doc:"Export file name"`
	}
	type fileOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{OperationID: "get-export", Method: http.MethodGet, Path: "/api/v1/exports/{name}", Summary: "Download a saved capture file", Tags: []string{"Exports"}},
		func(ctx context.Context, input *nameInput) (*fileOutput, error) {
			if exports == nil {
				return nil, mapErr(errNoExportStore)
			}
			data, err := exports.Read(input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			return &fileOutput{ContentType: "application/json", Body: data}, nil
		})

	type deleteOutput struct {
		Body struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-export", Method: http.MethodDelete, Path: "/api/v1/exports/{name}", Summary: "Delete a saved capture file", Tags: []string{"Exports"}},
		func(ctx context.Context, input *nameInput) (*deleteOutput, error) {
			if exports == nil {
				return nil, mapErr(errNoExportStore)
			}
			if err := exports.Delete(input.Name); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Name = input.Name
			out.Body.Status = "deleted"
			return out, nil
		})
}
