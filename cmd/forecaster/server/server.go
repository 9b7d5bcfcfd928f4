// Package server implements the demandcast.v1.Forecaster gRPC service on top
// of the forecaster Service, with gRPC health checking and reflection.
package server

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/demandcast/pkg/api/forecastv1"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/forecasting"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
	"github.com/HatiCode/demandcast/pkg/training"
)

// Service is what the gRPC handlers need from the forecaster.
type Service interface {
	Train(ctx context.Context, s timeseries.Series) (*training.Result, error)
	Forecast(ctx context.Context, s timeseries.Series, days int) (*models.Forecast, error)
}

// Recorder receives one call per finished RPC.
type Recorder interface {
	RecordGRPCRequest(method, code string)
}

// Forecaster implements forecastv1.ForecasterServer.
type Forecaster struct {
	forecastv1.UnimplementedForecasterServer
	svc Service
}

// NewForecaster wraps svc.
func NewForecaster(svc Service) *Forecaster {
	return &Forecaster{svc: svc}
}

func (f *Forecaster) Train(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req forecastv1.TrainRequest
	if err := forecastv1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	series, err := req.Series.Build()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := f.svc.Train(ctx, series)
	if err != nil {
		return nil, StatusError(err)
	}
	return forecastv1.ToStruct(forecastv1.NewTrainResponse(res))
}

func (f *Forecaster) Forecast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req forecastv1.ForecastRequest
	if err := forecastv1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	series, err := req.Series.Build()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	days := req.Days
	if days == 0 {
		days = forecastv1.DefaultDays
	}
	fc, err := f.svc.Forecast(ctx, series, days)
	if err != nil {
		return nil, StatusError(err)
	}
	return forecastv1.ToStruct(forecastv1.ForecastResponse{Model: fc.Model, Forecast: fc, Message: "ok"})
}

// StatusError maps service errors to gRPC status errors.
func StatusError(err error) error {
	switch {
	case errors.Is(err, storage.ErrModelNotFound):
		return status.Error(codes.NotFound, forecasting.MsgModelNotFound)
	case errors.Is(err, forecasting.ErrInvalidHorizon):
		return status.Error(codes.InvalidArgument, err.Error())
	case features.IsInsufficientData(err), training.IsNoModelTrained(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// New builds a gRPC server exposing svc, the health service and reflection.
// rec may be nil.
func New(svc Service, rec Recorder, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoveryInterceptor(logger),
		loggingInterceptor(rec, logger),
	))

	forecastv1.RegisterForecasterServer(grpcServer, NewForecaster(svc))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(forecastv1.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

func loggingInterceptor(rec Recorder, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		method := path.Base(info.FullMethod)
		if rec != nil {
			rec.RecordGRPCRequest(method, code.String())
		}
		logger.Info("gRPC request",
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func recoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", "panic", r, "method", info.FullMethod)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
