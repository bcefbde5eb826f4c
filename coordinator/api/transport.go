package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/api"
	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	deviceIDKey    = "device_id"
	datasetNameKey = "name"
)

// MakeHandler returns the coordinator HTTP API. When datasetDir is set, the
// preprocessed client datasets in it are served as <name>.zip archives.
func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID, datasetDir string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Post("/api/register", otelhttp.NewHandler(kithttp.NewServer(
		registerEndpoint(svc),
		decodeRegisterReq,
		api.EncodeResponse,
		opts...,
	), "register").ServeHTTP)

	mux.Get("/clients", otelhttp.NewHandler(kithttp.NewServer(
		listClientsEndpoint(svc),
		decodeListEntityReq,
		api.EncodeResponse,
		opts...,
	), "list-clients").ServeHTTP)

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listRoundsEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-rounds").ServeHTTP)
		r.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
			roundStatusEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "round-status").ServeHTTP)
		r.Post("/start", otelhttp.NewHandler(kithttp.NewServer(
			startRoundsEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "start-rounds").ServeHTTP)
	})

	mux.Get("/model", otelhttp.NewHandler(kithttp.NewServer(
		globalModelEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "global-model").ServeHTTP)

	// Updates normally arrive over MQTT; this endpoint serves clients that
	// cannot reach the broker.
	mux.Post("/updates", otelhttp.NewHandler(kithttp.NewServer(
		handleUpdateEndpoint(svc),
		decodeUpdateReq,
		api.EncodeResponse,
		opts...,
	), "handle-update").ServeHTTP)

	if datasetDir != "" {
		mux.Get(coordinator.DatasetPath+"{"+datasetNameKey+"}", otelhttp.NewHandler(
			downloadDataset(datasetDir, logger), "download-dataset",
		).ServeHTTP)
	}

	mux.Get("/health", supermq.Health("coordinator", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeRegisterReq(_ context.Context, r *http.Request) (any, error) {
	req := registerReq{
		deviceID: r.URL.Query().Get(deviceIDKey),
	}
	if req.deviceID != "" {
		return req, nil
	}

	if strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		var body struct {
			DeviceID string `json:"device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, errors.Join(err, apiutil.ErrValidation)
		}
		req.deviceID = body.DeviceID

		return req, nil
	}

	req.deviceID = r.FormValue(deviceIDKey)

	return req, nil
}

func decodeUpdateReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req updateReq
	if err := json.NewDecoder(r.Body).Decode(&req.Message); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation, fl.ErrMalformedUpdate)
	}

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}

func decodeEmptyReq(_ context.Context, _ *http.Request) (any, error) {
	return nil, nil
}

func downloadDataset(dir string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, datasetNameKey) + ".zip"
		encodeErr := apiutil.LoggingErrorEncoder(logger, api.EncodeError)
		notFound := errors.Join(pkgerrors.ErrNotFound, fmt.Errorf("dataset %s", name))
		if !fs.ValidPath(name) || strings.ContainsAny(name, `/\`) {
			encodeErr(r.Context(), notFound, w)

			return
		}

		root, err := os.OpenRoot(dir)
		if err != nil {
			encodeErr(r.Context(), fmt.Errorf("failed to open dataset directory: %w", err), w)

			return
		}
		defer root.Close()

		file, err := root.Open(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = notFound
			}
			encodeErr(r.Context(), err, w)

			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			encodeErr(r.Context(), err, w)

			return
		}
		if info.IsDir() {
			encodeErr(r.Context(), notFound, w)

			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		http.ServeContent(w, r, name, info.ModTime(), file)
	}
}
