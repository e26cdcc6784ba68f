package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/archive"
	"github.com/cardarena/arena-server-go/internal/auth"
	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/cardarena/arena-server-go/internal/repository"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const testPassword = "hunter2"

type fakeQueue struct{}

func (fakeQueue) Stats(context.Context) ([]matchmaking.ModeStats, error) {
	return []matchmaking.ModeStats{{Mode: "1v1", Players: 3, Waiting: 3, OldestWait: 1500 * time.Millisecond, Paired: 7}}, nil
}

type fakeSnapshots map[string]*game.Snapshot

func (f fakeSnapshots) Load(_ context.Context, id string) (*game.Snapshot, error) {
	if s, ok := f[id]; ok {
		return s, nil
	}
	return nil, ports.ErrNotFound
}

type adminEnv struct {
	registry *game.Registry
	client   *ArenaAdminClient
	health   healthpb.HealthClient
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cat, err := catalog.LoadFile("../../config/catalog.json")
	require.NoError(t, err)
	replays, err := archive.NewDir(t.TempDir(), logger)
	require.NoError(t, err)

	registry, err := game.NewRegistry(game.RegistryConfig{
		Rules:   game.DefaultRules(),
		Catalog: cat,
		Deps: game.MatchDeps{
			Clock:   clockwork.NewFakeClock(),
			Players: repository.NewMemoryPlayers(append(cat.CardIDs(), cat.CardIDs()...), 1000),
			Archive: replays,
		},
		Logger: logger,
	})
	require.NoError(t, err)

	srv, err := NewAdminServer(AdminDeps{
		Matches: registry,
		Queue:   fakeQueue{},
		Snapshots: fakeSnapshots{"old": {
			MatchID: "old",
			Status:  game.StatusFinished,
			Viewer:  game.Spectator,
		}},
		Replays: replays,
		Catalog: cat,
		Logger:  logger,
	})
	require.NoError(t, err)

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	admin, err := auth.NewAdmin(hash)
	require.NoError(t, err)

	grpcServer := NewGRPCServer(config.GRPCConfig{MaxConcurrentStreams: 10}, srv, admin, logger)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	return &adminEnv{
		registry: registry,
		client:   NewArenaAdminClient(conn),
		health:   healthpb.NewHealthClient(conn),
	}
}

func adminCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, AdminPasswordHeader, testPassword)
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func (e *adminEnv) createMatch(t *testing.T) string {
	t.Helper()
	id, err := e.registry.CreateMatch(context.Background(), "1v1", []ports.Seat{
		{PlayerID: "alice", Rating: 1000},
		{PlayerID: "bob", Rating: 1000},
	})
	require.NoError(t, err)
	return id
}

func TestAdminRequiresPassword(t *testing.T) {
	env := newAdminEnv(t)

	_, err := env.client.Call(context.Background(), "ListMatches", nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), AdminPasswordHeader, "wrong")
	_, err = env.client.Call(ctx, "ListMatches", nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// Health checks need no credentials.
	resp, err := env.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: AdminServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestListAndGetMatch(t *testing.T) {
	env := newAdminEnv(t)
	id := env.createMatch(t)

	resp, err := env.client.Call(adminCtx(t), "ListMatches", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.GetFields()["count"].GetNumberValue())
	matches := resp.GetFields()["matches"].GetListValue().GetValues()
	require.Len(t, matches, 1)
	m := matches[0].GetStructValue().GetFields()
	assert.Equal(t, id, m["match_id"].GetStringValue())
	assert.Equal(t, "queued", m["status"].GetStringValue())
	assert.Len(t, m["participants"].GetListValue().GetValues(), 2)

	resp, err = env.client.Call(adminCtx(t), "GetMatch", request(t, map[string]any{"match_id": id}))
	require.NoError(t, err)
	assert.Equal(t, "live", resp.GetFields()["source"].GetStringValue())
	snap := resp.GetFields()["snapshot"].GetStructValue().GetFields()
	assert.EqualValues(t, game.Spectator, snap["viewer"].GetNumberValue())

	resp, err = env.client.Call(adminCtx(t), "GetMatch", request(t, map[string]any{"match_id": "old"}))
	require.NoError(t, err)
	assert.Equal(t, "cache", resp.GetFields()["source"].GetStringValue())

	_, err = env.client.Call(adminCtx(t), "GetMatch", request(t, map[string]any{"match_id": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.Call(adminCtx(t), "GetMatch", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCancelMatchAndVerifyReplay(t *testing.T) {
	env := newAdminEnv(t)
	id := env.createMatch(t)

	_, err := env.client.Call(adminCtx(t), "ForceAdvance", request(t, map[string]any{"match_id": id}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "a queued match has no phase to advance")

	resp, err := env.client.Call(adminCtx(t), "CancelMatch", request(t, map[string]any{"match_id": id}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["cancelled"].GetBoolValue())
	assert.Equal(t, game.ReasonAdmin, resp.GetFields()["reason"].GetStringValue())

	require.Eventually(t, func() bool {
		_, err := env.registry.Get(id)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = env.client.Call(adminCtx(t), "CancelMatch", request(t, map[string]any{"match_id": id}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	resp, err = env.client.Call(adminCtx(t), "VerifyReplay", request(t, map[string]any{"match_id": id}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["verified"].GetBoolValue())
	assert.Equal(t, resp.GetFields()["recorded"].GetStringValue(), resp.GetFields()["checksum"].GetStringValue())

	_, err = env.client.Call(adminCtx(t), "VerifyReplay", request(t, map[string]any{"match_id": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestQueueStats(t *testing.T) {
	env := newAdminEnv(t)

	resp, err := env.client.Call(adminCtx(t), "QueueStats", nil)
	require.NoError(t, err)
	modes := resp.GetFields()["modes"].GetListValue().GetValues()
	require.Len(t, modes, 1)
	mode := modes[0].GetStructValue().GetFields()
	assert.Equal(t, "1v1", mode["mode"].GetStringValue())
	assert.EqualValues(t, 3, mode["waiting"].GetNumberValue())
	assert.EqualValues(t, 1500, mode["oldest_wait_ms"].GetNumberValue())
	assert.EqualValues(t, 7, mode["paired"].GetNumberValue())
}

func TestRecoveryInterceptor(t *testing.T) {
	logger := zaptest.NewLogger(t)
	intercept := RecoveryInterceptor(logger)
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Boom"},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}
	chain := ChainUnaryInterceptors(mark("a"), mark("b"))
	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, interface{}) (interface{}, error) {
		order = append(order, "handler")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestAdminDisabled(t *testing.T) {
	admin, err := auth.NewAdmin("")
	require.NoError(t, err)
	intercept := AdminInterceptor(admin, zaptest.NewLogger(t))
	_, err = intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/" + AdminServiceName + "/ListMatches"},
		func(context.Context, interface{}) (interface{}, error) { return nil, nil })
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
