// Package chat exposes the assistant over HTTP and WebSocket and keeps the
// durable conversation transcript in Redis.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const transcriptKeyPrefix = "chat_transcript:"

// TranscriptMessage is one persisted chat line.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore persists chat transcripts per subject in Redis lists. The
// in-memory session holds the working copy; this store is what survives a
// restart and what the history endpoint reads. A nil store is a no-op.
type TranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
}

// NewTranscriptStore builds a transcript store. Returns nil when redisClient
// is nil so chat can run without history.
func NewTranscriptStore(redisClient *redis.Client, ttl time.Duration, maxMessages int64) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &TranscriptStore{
		redis:       redisClient,
		tracer:      otel.Tracer("clinic.internal.chat.transcript"),
		ttl:         ttl,
		maxMessages: maxMessages,
	}
}

// Append stores one message at the tail of the subject's transcript,
// refreshing the TTL and trimming to the retention cap.
func (s *TranscriptStore) Append(ctx context.Context, subjectID string, msg TranscriptMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if subjectID == "" {
		return errors.New("chat: transcript subjectID required")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chat: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "chat.transcript.append")
	defer span.End()

	key := transcriptKey(subjectID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: append transcript message: %w", err)
	}
	return nil
}

// List returns the most recent messages in chronological order. limit <= 0
// returns the whole retained transcript.
func (s *TranscriptStore) List(ctx context.Context, subjectID string, limit int64) ([]TranscriptMessage, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if subjectID == "" {
		return nil, errors.New("chat: transcript subjectID required")
	}

	ctx, span := s.tracer.Start(ctx, "chat.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := s.redis.LRange(ctx, transcriptKey(subjectID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, redis.Nil) {
			return []TranscriptMessage{}, nil
		}
		return nil, fmt.Errorf("chat: list transcript: %w", err)
	}

	out := make([]TranscriptMessage, 0, len(raw))
	for _, item := range raw {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func transcriptKey(subjectID string) string {
	return transcriptKeyPrefix + subjectID
}
