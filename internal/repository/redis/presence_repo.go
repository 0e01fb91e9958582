package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"medipredict-backend/internal/database"
	"medipredict-backend/internal/domain"
)

const onlineSetKey = "presence:online"

// PresenceRepository mirrors participant presence into Redis so that other
// services can see who is reachable without talking to the signaling server
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository. Presence keys expire
// after ttl unless rewritten.
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

func presenceKey(participantID string) string {
	return fmt.Sprintf("presence:%s", participantID)
}

// SetOnline marks participantID as online with its role
func (r *PresenceRepository) SetOnline(ctx context.Context, participantID string, role domain.Role) error {
	if err := r.client.SafeSet(ctx, presenceKey(participantID), string(role), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set participant online: %w", err)
	}

	if err := r.client.SafeSAdd(ctx, onlineSetKey, participantID).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetOffline marks participantID as offline
func (r *PresenceRepository) SetOffline(ctx context.Context, participantID string) error {
	if err := r.client.SafeDel(ctx, presenceKey(participantID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}

	if err := r.client.SafeSRem(ctx, onlineSetKey, participantID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// Get returns the mirrored role of participantID and whether it is online
func (r *PresenceRepository) Get(ctx context.Context, participantID string) (domain.Role, bool, error) {
	role, err := r.client.SafeGet(ctx, presenceKey(participantID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to check presence: %w", err)
	}

	return domain.Role(role), true, nil
}

// OnlineCount returns the number of participants in the online set
func (r *PresenceRepository) OnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online participants: %w", err)
	}
	return count, nil
}

// Reset clears every mirrored entry. Called at startup since the in-memory
// registry always starts empty.
func (r *PresenceRepository) Reset(ctx context.Context) error {
	ids, err := r.client.SafeSMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list online participants: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, presenceKey(id))
	}
	keys = append(keys, onlineSetKey)

	if err := r.client.SafeDel(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}

	return nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
