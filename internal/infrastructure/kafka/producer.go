package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ethledger/internal/domain"
	"ethledger/internal/infrastructure/telemetry"
	"ethledger/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTopic = "ethledger-events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes ledger events. Block and token events share one topic
// and are told apart by the message type.
type Producer struct {
	writer messageWriter
	topic  string
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = defaultTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, topic: cfg.Topic}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishBlock(ctx context.Context, block domain.Block) error {
	return p.publish(ctx, "ingest.publish_block",
		[]byte(fmt.Sprintf("block:%d", block.Number)),
		streaming.Message{
			Type:        streaming.MessageTypeBlock,
			BlockNumber: block.Number,
			BlockHash:   block.Hash,
			BlockTime:   block.Timestamp.Unix(),
			TotalTxns:   block.TotalTxns,
			TokenTxns:   block.TokenTxns,
		},
		attribute.Int64("block.number", int64(block.Number)),
		attribute.String("block.hash", block.Hash),
	)
}

func (p *Producer) PublishTokenDiscovered(ctx context.Context, token domain.Token) error {
	return p.publish(ctx, "ingest.publish_token",
		[]byte(token.Wallet),
		streaming.Message{
			Type:    streaming.MessageTypeToken,
			TokenID: token.ID,
			Wallet:  token.Wallet,
		},
		attribute.Int64("token.id", int64(token.ID)),
		attribute.String("token.wallet", token.Wallet),
	)
}

func (p *Producer) publish(ctx context.Context, spanName string, key []byte, msg streaming.Message, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer("ethledger/kafka").Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	if sc := span.SpanContext(); sc.HasTraceID() {
		msg.TraceID = sc.TraceID().String()
	}
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     key,
		Value:   payload,
		Headers: telemetry.TraceHeaders(ctx),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
