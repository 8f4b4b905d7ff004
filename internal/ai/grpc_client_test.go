package ai

import (
	"context"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type generatorServer interface {
	Generate(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(`{"text":"echo: ` + strings.ToUpper(in.GetValue()) + `"}`), nil
}

var generatorDesc = grpc.ServiceDesc{
	ServiceName: GeneratorService,
	HandlerType: (*generatorServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Generate",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.StringValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(generatorServer).Generate(ctx, in)
		},
	}},
}

func startGeneratorServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&generatorDesc, echoGenerator{})
	hs := health.NewServer()
	hs.SetServingStatus(GeneratorService, status)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dialBuf(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestGrpcGeneratorGenerate(t *testing.T) {
	lis := startGeneratorServer(t, healthpb.HealthCheckResponse_SERVING)
	ctx := context.Background()

	gen, err := NewGrpcGenerator(ctx, "passthrough:///bufnet", nil, dialBuf(lis))
	if err != nil {
		t.Fatalf("NewGrpcGenerator: %v", err)
	}
	defer gen.Close()

	if err := gen.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	env, err := NewAdapter(gen, 0, nil).Invoke(ctx, "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if env.Text != "echo: HELLO" {
		t.Errorf("Text = %q, want echo: HELLO", env.Text)
	}
}

func TestGrpcGeneratorNotServing(t *testing.T) {
	lis := startGeneratorServer(t, healthpb.HealthCheckResponse_NOT_SERVING)
	ctx := context.Background()

	gen, err := NewGrpcGenerator(ctx, "passthrough:///bufnet", nil, dialBuf(lis))
	if err != nil {
		t.Fatalf("NewGrpcGenerator: %v", err)
	}
	defer gen.Close()

	if err := gen.Health(ctx); err == nil {
		t.Fatal("Health succeeded for NOT_SERVING generator")
	}
}
