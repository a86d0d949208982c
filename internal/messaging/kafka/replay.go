package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// ErrNotReplayable — запись DLQ не содержит исходного события.
var ErrNotReplayable = errors.New("dlq record is not replayable")

// Replay — сообщение, готовое к повторной публикации.
type Replay struct {
	Topic string
	Key   string
	Value []byte
}

// DecodeReplay восстанавливает исходное сообщение из записи DLQ.
// Поддерживаются два формата: DeadLetter от consumer (значение сохранено как есть)
// и конверт outbox worker, внутри которого лежит domain.OutboxDeadLetter.
// Для второго формата конверт собирается заново с новым PublishedAt.
func DecodeReplay(value []byte, defaultTopic string, now time.Time) (Replay, error) {
	var consumed DeadLetter
	if err := json.Unmarshal(value, &consumed); err == nil && consumed.OriginalValue != "" {
		topic := strings.TrimSpace(consumed.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return Replay{Topic: topic, Key: consumed.OriginalKey, Value: []byte(consumed.OriginalValue)}, nil
	}

	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil || len(env.Payload) == 0 {
		return Replay{}, ErrNotReplayable
	}

	var dead domain.OutboxDeadLetter
	if err := json.Unmarshal(env.Payload, &dead); err != nil {
		return Replay{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return Replay{}, fmt.Errorf("%w: outbox dead letter has no event payload", ErrNotReplayable)
	}

	replay := Envelope{
		ID:            firstNonEmpty(dead.OutboxID, env.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, env.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return Replay{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}
	return Replay{Topic: defaultTopic, Key: key, Value: encoded}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
