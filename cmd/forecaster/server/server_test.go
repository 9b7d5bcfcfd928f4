package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/HatiCode/demandcast/pkg/api/forecastv1"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/forecasting"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
	"github.com/HatiCode/demandcast/pkg/training"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stack struct {
	trainer    *training.Trainer
	forecaster *forecasting.Forecaster
}

func (s stack) Train(ctx context.Context, series timeseries.Series) (*training.Result, error) {
	return s.trainer.Train(ctx, series)
}

func (s stack) Forecast(ctx context.Context, series timeseries.Series, days int) (*models.Forecast, error) {
	return s.forecaster.Forecast(ctx, series, days)
}

func newStack() stack {
	store := storage.NewMemoryStore()
	return stack{
		trainer:    training.New(store, training.Config{Options: models.Options{Trees: 10}}, discardLogger()),
		forecaster: forecasting.New(store, discardLogger()),
	}
}

type panicking struct{ stack }

func (panicking) Train(context.Context, timeseries.Series) (*training.Result, error) {
	panic("boom")
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) RecordGRPCRequest(method, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method+"/"+code)
}

func dial(t *testing.T, svc Service, rec Recorder) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := New(svc, rec, discardLogger())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func linear(n int) timeseries.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i + 1)
	}
	return timeseries.FromValues("sales", start, values)
}

func TestTrainAndForecast(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	client := forecastv1.NewClient(dial(t, newStack(), rec))
	s := linear(40)

	_, err := client.Forecast(ctx, forecastv1.ForecastRequest{Series: forecastv1.FromSeries(s), Days: 5})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("Forecast() before training code = %v, want NotFound", status.Code(err))
	}
	if msg := status.Convert(err).Message(); msg != forecasting.MsgModelNotFound {
		t.Errorf("message = %q, want %q", msg, forecasting.MsgModelNotFound)
	}

	tr, err := client.Train(ctx, forecastv1.TrainRequest{Series: forecastv1.FromSeries(s)})
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if tr.Model != models.RandomForestName || len(tr.Scores) != 2 {
		t.Errorf("Train() = %+v", tr)
	}

	fr, err := client.Forecast(ctx, forecastv1.ForecastRequest{Series: forecastv1.FromSeries(s), Days: 5})
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if fr.Forecast == nil || len(fr.Forecast.Points) != 5 {
		t.Fatalf("Forecast() = %+v", fr)
	}
	prev := s.Last().Value
	for i, p := range fr.Forecast.Points {
		if p.Value < prev-1e-9 || math.IsNaN(p.Value) {
			t.Errorf("Points[%d] = %v, want non-decreasing from %v", i, p.Value, prev)
		}
		prev = p.Value
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"Forecast/NotFound", "Train/OK", "Forecast/OK"}
	if fmt.Sprint(rec.calls) != fmt.Sprint(want) {
		t.Errorf("recorded calls = %v, want %v", rec.calls, want)
	}
}

func TestErrorCodes(t *testing.T) {
	ctx := context.Background()
	client := forecastv1.NewClient(dial(t, newStack(), nil))

	_, err := client.Train(ctx, forecastv1.TrainRequest{Series: forecastv1.FromSeries(linear(20))})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("Train(short) code = %v, want FailedPrecondition", status.Code(err))
	}

	_, err = client.Train(ctx, forecastv1.TrainRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Train(empty) code = %v, want InvalidArgument", status.Code(err))
	}

	if _, err := client.Train(ctx, forecastv1.TrainRequest{Series: forecastv1.FromSeries(linear(40))}); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	_, err = client.Forecast(ctx, forecastv1.ForecastRequest{Series: forecastv1.FromSeries(linear(40)), Days: -1})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Forecast(-1 days) code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestForecast_DefaultDays(t *testing.T) {
	ctx := context.Background()
	client := forecastv1.NewClient(dial(t, newStack(), nil))
	s := forecastv1.FromSeries(linear(40))

	if _, err := client.Train(ctx, forecastv1.TrainRequest{Series: s}); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	fr, err := client.Forecast(ctx, forecastv1.ForecastRequest{Series: s})
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if fr.Forecast == nil || len(fr.Forecast.Points) != forecastv1.DefaultDays {
		t.Errorf("Forecast() without days returned %+v, want %d points", fr.Forecast, forecastv1.DefaultDays)
	}
}

func TestRecoversPanics(t *testing.T) {
	client := forecastv1.NewClient(dial(t, panicking{newStack()}, nil))

	_, err := client.Train(context.Background(), forecastv1.TrainRequest{Series: forecastv1.FromSeries(linear(40))})
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %v, want Internal", status.Code(err))
	}
}

func TestHealth(t *testing.T) {
	health := grpc_health_v1.NewHealthClient(dial(t, newStack(), nil))

	for _, service := range []string{"", forecastv1.ServiceName} {
		resp, err := health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) error = %v", service, err)
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %v, want SERVING", service, resp.GetStatus())
		}
	}
}

func TestReflection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := grpc_reflection_v1.NewServerReflectionClient(dial(t, newStack(), nil)).ServerReflectionInfo(ctx)
	if err != nil {
		t.Fatalf("ServerReflectionInfo() error = %v", err)
	}

	if err := stream.Send(&grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_ListServices{},
	}); err != nil {
		t.Fatalf("Send(ListServices) error = %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv(ListServices) error = %v", err)
	}
	listed := false
	for _, svc := range resp.GetListServicesResponse().GetService() {
		listed = listed || svc.GetName() == forecastv1.ServiceName
	}
	if !listed {
		t.Errorf("ListServices() = %v, want %s", resp.GetListServicesResponse().GetService(), forecastv1.ServiceName)
	}

	if err := stream.Send(&grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: forecastv1.ServiceName,
		},
	}); err != nil {
		t.Fatalf("Send(FileContainingSymbol) error = %v", err)
	}
	resp, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv(FileContainingSymbol) error = %v", err)
	}
	if e := resp.GetErrorResponse(); e != nil {
		t.Fatalf("FileContainingSymbol() error %d: %s", e.GetErrorCode(), e.GetErrorMessage())
	}

	var found bool
	for _, raw := range resp.GetFileDescriptorResponse().GetFileDescriptorProto() {
		var fd descriptorpb.FileDescriptorProto
		if err := proto.Unmarshal(raw, &fd); err != nil {
			t.Fatalf("unmarshal descriptor: %v", err)
		}
		if fd.GetName() != forecastv1.ProtoFile {
			continue
		}
		found = true
		if len(fd.GetService()) != 1 || len(fd.GetService()[0].GetMethod()) != 2 {
			t.Errorf("descriptor services = %v", fd.GetService())
		}
	}
	if !found {
		t.Errorf("no descriptor for %s in reflection response", forecastv1.ProtoFile)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{storage.ErrModelNotFound, codes.NotFound},
		{fmt.Errorf("x: %w", forecasting.ErrInvalidHorizon), codes.InvalidArgument},
		{&features.InsufficientDataError{Need: 8, Got: 1}, codes.FailedPrecondition},
		{&training.NoModelTrainedError{}, codes.FailedPrecondition},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		if got := status.Code(StatusError(tt.err)); got != tt.want {
			t.Errorf("StatusError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
