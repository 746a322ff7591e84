package doed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startBufconnServer(t *testing.T, mgr *Manager) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterDesignServiceServer(srv, NewDesignGRPCServer(mgr))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestGRPCHealthServing(t *testing.T) {
	mgr := NewManager(store.NewMemoryStore(), nil)
	defer mgr.Close()
	conn := startBufconnServer(t, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: DesignServiceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}

func TestGRPCGetCampaignAndSubmitObservation(t *testing.T) {
	mgr := NewManager(store.NewMemoryStore(), nil)
	defer mgr.Close()
	client := NewDesignServiceClient(startBufconnServer(t, mgr))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := mgr.Create(ctx, CreateRequest{ID: "cmp-grpc", ConfigYAML: testConfigYAML}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var design float64
	for {
		resp, err := client.GetCampaign(ctx, mustStruct(t, map[string]any{"campaign_id": "cmp-grpc"}))
		if err != nil {
			t.Fatalf("GetCampaign failed: %v", err)
		}
		got := resp.GetFields()["campaign"].GetStructValue().GetFields()["id"].GetStringValue()
		if got != "cmp-grpc" {
			t.Fatalf("unexpected campaign id %q", got)
		}
		if p := resp.GetFields()["pending"].GetStructValue(); p != nil {
			design = p.GetFields()["design"].GetListValue().GetValues()[0].GetNumberValue()
			break
		}
		if ctx.Err() != nil {
			t.Fatalf("timed out waiting for a pending design")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := client.SubmitObservation(ctx, mustStruct(t, map[string]any{
		"campaign_id": "cmp-grpc",
		"output":      []any{2 * design},
	}))
	if err != nil {
		t.Fatalf("SubmitObservation failed: %v", err)
	}
	if !resp.GetFields()["accepted"].GetBoolValue() {
		t.Fatalf("expected accepted response, got %v", resp)
	}

	for {
		view, err := mgr.Get(ctx, "cmp-grpc")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(view.Observations) == 1 {
			if view.Observations[0].Output[0] != 2*design {
				t.Fatalf("unexpected observation %+v", view.Observations[0])
			}
			break
		}
		if ctx.Err() != nil {
			t.Fatalf("timed out waiting for the observation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGRPCErrors(t *testing.T) {
	mgr := NewManager(store.NewMemoryStore(), nil)
	defer mgr.Close()
	client := NewDesignServiceClient(startBufconnServer(t, mgr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"get without id", func() error {
			_, err := client.GetCampaign(ctx, mustStruct(t, map[string]any{}))
			return err
		}, codes.InvalidArgument},
		{"get missing", func() error {
			_, err := client.GetCampaign(ctx, mustStruct(t, map[string]any{"campaign_id": "nope"}))
			return err
		}, codes.NotFound},
		{"submit without output", func() error {
			_, err := client.SubmitObservation(ctx, mustStruct(t, map[string]any{"campaign_id": "nope"}))
			return err
		}, codes.InvalidArgument},
		{"submit non-numeric output", func() error {
			_, err := client.SubmitObservation(ctx, mustStruct(t, map[string]any{"campaign_id": "nope", "output": []any{"x"}}))
			return err
		}, codes.InvalidArgument},
		{"submit missing", func() error {
			_, err := client.SubmitObservation(ctx, mustStruct(t, map[string]any{"campaign_id": "nope", "output": []any{1.0}}))
			return err
		}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if status.Code(err) != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}
