package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"buzzmaster-console/internal/domain"
)

// PositionStore persists buzzer avatar positions in a Redis hash so a
// console restart mid-session keeps the presenter's arrangement. Positions
// are stored as: HSET console:positions {buzzerID} "{x},{y}" with a TTL
// bounding stale sessions.
type PositionStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewPositionStore(client *redis.Client, ttl time.Duration) *PositionStore {
	return &PositionStore{client: client, key: "console:positions", ttl: ttl}
}

func (s *PositionStore) Load(ctx context.Context) (map[string]domain.Position, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	positions := make(map[string]domain.Position, len(raw))
	for id, val := range raw {
		x, y, ok := parsePair(val)
		if !ok {
			continue
		}
		positions[id] = domain.Position{X: x, Y: y}
	}
	return positions, nil
}

func (s *PositionStore) Save(ctx context.Context, positions map[string]domain.Position) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key)
	if len(positions) > 0 {
		fields := make(map[string]string, len(positions))
		for id, p := range positions {
			fields[id] = formatPair(p.X, p.Y)
		}
		pipe.HSet(ctx, s.key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func formatPair(x, y float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64) + "," + strconv.FormatFloat(y, 'f', -1, 64)
}

func parsePair(val string) (float64, float64, bool) {
	parts := strings.SplitN(val, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(parts[0], 64)
	y, errY := strconv.ParseFloat(parts[1], 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}
