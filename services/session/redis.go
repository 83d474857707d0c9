package sessionsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/classnet/backend/core"
)

var ErrNotFound = errors.New("session not found")

// Session is the server-side record kept for each issued token.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to redis with short timeouts.
func NewStore(conf core.RedisConfig, ttl time.Duration) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Address,
		Password:     conf.Password,
		DB:           conf.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Store{client: client, ttl: ttl}
}

func key(sessionID string) string { return "session:" + sessionID }

func (s *Store) Save(ctx context.Context, sessionID string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return errors.Wrap(s.client.Set(ctx, key(sessionID), data, s.ttl).Err(), "saving session")
}

func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	data, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Session{}, ErrNotFound
		}
		return Session{}, errors.Wrap(err, "getting session")
	}
	var sess Session
	if err = json.Unmarshal(data, &sess); err != nil {
		return Session{}, errors.Wrap(err, "decoding session")
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return errors.Wrap(s.client.Del(ctx, key(sessionID)).Err(), "deleting session")
}

// Healthy verifies redis connectivity.
func (s *Store) Healthy(ctx context.Context) bool {
	if s == nil || s.client == nil {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}
