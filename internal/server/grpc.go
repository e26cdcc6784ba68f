// Package server exposes the admin gRPC service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/cardarena/arena-server-go/internal/ports"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MatchSource lists and finds live matches.
type MatchSource interface {
	List() []*game.Match
	Get(matchID string) (*game.Match, error)
}

// QueueStatsSource reports matchmaking queue depth.
type QueueStatsSource interface {
	Stats(ctx context.Context) ([]matchmaking.ModeStats, error)
}

// SnapshotSource returns the last cached snapshot of a match.
type SnapshotSource interface {
	Load(ctx context.Context, matchID string) (*game.Snapshot, error)
}

// ReplaySource returns the archived replay of a match.
type ReplaySource interface {
	Load(ctx context.Context, matchID string) (*game.ReplayLog, error)
}

// AdminDeps are the collaborators of the admin service. Snapshots and
// Replays may be nil.
type AdminDeps struct {
	Matches   MatchSource
	Queue     QueueStatsSource
	Snapshots SnapshotSource
	Replays   ReplaySource
	Catalog   *catalog.Catalog
	Logger    *zap.Logger
}

// adminServer implements the ArenaAdmin gRPC service.
type adminServer struct {
	matches   MatchSource
	queue     QueueStatsSource
	snapshots SnapshotSource
	replays   ReplaySource
	catalog   *catalog.Catalog
	logger    *zap.Logger
}

// NewAdminServer creates the admin service implementation.
func NewAdminServer(deps AdminDeps) (ArenaAdminServer, error) {
	if deps.Matches == nil || deps.Queue == nil {
		return nil, fmt.Errorf("matches and queue are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &adminServer{
		matches:   deps.Matches,
		queue:     deps.Queue,
		snapshots: deps.Snapshots,
		replays:   deps.Replays,
		catalog:   deps.Catalog,
		logger:    logger,
	}, nil
}

// ==================== Matches ====================

// ListMatches returns a summary of every live match.
func (s *adminServer) ListMatches(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	matches := s.matches.List()
	out := make([]any, 0, len(matches))
	for _, m := range matches {
		info, err := m.Info(ctx)
		if errors.Is(err, game.ErrMatchClosed) {
			// Closed between List and Info.
			continue
		}
		if err != nil {
			return nil, toStatus(err)
		}
		out = append(out, matchInfoView(info))
	}
	return toStruct(map[string]any{
		"matches": out,
		"count":   len(out),
	})
}

// GetMatch returns the spectator view of a match. Live matches answer
// directly; otherwise the cached snapshot is used.
func (s *adminServer) GetMatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	matchID, err := requireString(req, "match_id")
	if err != nil {
		return nil, err
	}

	m, err := s.matches.Get(matchID)
	if err == nil {
		snap, err := m.Snapshot(ctx, game.Spectator)
		if err == nil {
			return toStruct(map[string]any{"source": "live", "snapshot": snap})
		}
		if !errors.Is(err, game.ErrMatchClosed) {
			return nil, toStatus(err)
		}
	}
	if s.snapshots == nil {
		return nil, status.Errorf(codes.NotFound, "match %s not found", matchID)
	}
	snap, err := s.snapshots.Load(ctx, matchID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"source": "cache", "snapshot": snap})
}

// CancelMatch terminates a live match. reason defaults to "admin".
func (s *adminServer) CancelMatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	matchID, err := requireString(req, "match_id")
	if err != nil {
		return nil, err
	}
	reason := optionalString(req, "reason")
	if reason == "" {
		reason = game.ReasonAdmin
	}

	m, err := s.matches.Get(matchID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := m.Cancel(ctx, reason); err != nil {
		return nil, toStatus(err)
	}

	s.logger.Warn("match cancelled by admin",
		zap.String("match_id", matchID),
		zap.String("reason", reason),
		zap.String("host", extractHostFromContext(ctx)),
	)
	return toStruct(map[string]any{"match_id": matchID, "cancelled": true, "reason": reason})
}

// ForceAdvance ends the current phase regardless of its owner.
func (s *adminServer) ForceAdvance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	matchID, err := requireString(req, "match_id")
	if err != nil {
		return nil, err
	}
	m, err := s.matches.Get(matchID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := m.ForceAdvance(ctx); err != nil {
		return nil, toStatus(err)
	}
	info, err := m.Info(ctx)
	if err != nil {
		// The advance may have ended the match.
		if errors.Is(err, game.ErrMatchClosed) {
			return toStruct(map[string]any{"match_id": matchID, "closed": true})
		}
		return nil, toStatus(err)
	}

	s.logger.Info("phase advanced by admin",
		zap.String("match_id", matchID),
		zap.String("phase", info.Phase),
		zap.Int("turn", info.Turn),
	)
	return toStruct(matchInfoView(info))
}

// ==================== Queue ====================

// QueueStats reports every mode's queue.
func (s *adminServer) QueueStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	modes := make([]any, 0, len(stats))
	for _, st := range stats {
		modes = append(modes, map[string]any{
			"mode":           st.Mode,
			"players":        st.Players,
			"waiting":        st.Waiting,
			"oldest_wait_ms": st.OldestWait.Milliseconds(),
			"paired":         st.Paired,
		})
	}
	return toStruct(map[string]any{"modes": modes})
}

// ==================== Replays ====================

// VerifyReplay reproduces an archived match and compares its checksum.
func (s *adminServer) VerifyReplay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	matchID, err := requireString(req, "match_id")
	if err != nil {
		return nil, err
	}
	if s.replays == nil || s.catalog == nil {
		return nil, status.Errorf(codes.FailedPrecondition, "replay archive disabled")
	}
	log, err := s.replays.Load(ctx, matchID)
	if err != nil {
		return nil, toStatus(err)
	}

	start := time.Now()
	m, err := game.Reproduce(log, s.catalog, s.logger)
	resp := map[string]any{
		"match_id":   matchID,
		"operations": len(log.Operations),
		"recorded":   log.Checksum,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if m != nil {
		resp["checksum"] = m.Checksum()
	}
	switch {
	case err == nil:
		resp["verified"] = true
	case errors.Is(err, game.ErrReplayDiverged):
		s.logger.Error("replay diverged", zap.String("match_id", matchID), zap.Error(err))
		resp["verified"] = false
		resp["error"] = err.Error()
	default:
		return nil, status.Errorf(codes.DataLoss, "reproduce %s: %v", matchID, err)
	}
	return toStruct(resp)
}

// ==================== Helper Functions ====================

func matchInfoView(info game.MatchInfo) map[string]any {
	players := make([]any, 0, len(info.Participants))
	for _, p := range info.Participants {
		players = append(players, map[string]any{
			"player_id": p.PlayerID,
			"team":      p.Team,
			"rating":    p.Rating,
			"ready":     p.Ready,
			"connected": p.Connected,
		})
	}
	return map[string]any{
		"match_id":     info.MatchID,
		"mode":         info.Mode,
		"status":       info.Status.String(),
		"reason":       info.Reason,
		"arena_id":     info.ArenaID,
		"turn":         info.Turn,
		"phase":        info.Phase,
		"current_team": info.CurrentTeam,
		"time_left_ms": info.TimeLeft.Milliseconds(),
		"participants": players,
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func optionalString(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func requireString(req *structpb.Struct, key string) (string, error) {
	v := optionalString(req, key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, game.ErrMatchNotFound), errors.Is(err, ports.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, game.ErrMatchNotActive), errors.Is(err, game.ErrMatchClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ports.ErrUnavailable), errors.Is(err, matchmaking.ErrQueueUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Helper function to extract host from context
func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != net.Addr(nil) {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
