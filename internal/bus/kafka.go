package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	headerSubject = "bus-subject"
	headerReply   = "bus-reply"

	readerMaxWait  = 250 * time.Millisecond
	readerMaxBytes = 10e6
)

type (
	// kafkaMessageWriter abstracts *kafka.Writer so tests can capture published messages.
	kafkaMessageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// KafkaBus maps subjects onto Kafka topics, one topic per subject.
	//
	// Every subject is consumed through its own consumer group so several processes sharing
	// KAFKA_GROUP_ID split the work the way a queue group would. Replies travel on a topic
	// private to this process and are matched to waiting requests by the reply subject
	// carried in a header.
	KafkaBus struct {
		cfg        *Config
		writer     kafkaMessageWriter
		logger     *slog.Logger
		instanceID string

		mu      sync.Mutex
		readers map[*kafkaSubscription]struct{}
		pending map[string]chan []byte
		closed  bool

		// inboxMu serializes reply inbox setup. A failed setup is retried by the next caller.
		inboxMu      sync.Mutex
		inboxStarted bool
		inboxCancel  context.CancelFunc
		inboxDone    chan struct{}

		ensureTopics   func(ctx context.Context, subjects ...string) error
		subscribeInbox func(ctx context.Context, subject string) (Subscription, error)
	}

	kafkaSubscription struct {
		bus     *KafkaBus
		subject string
		reader  *kafka.Reader
		once    sync.Once
	}
)

var (
	_ Bus            = (*KafkaBus)(nil)
	_ SubjectEnsurer = (*KafkaBus)(nil)
	_ ReplyListener  = (*KafkaBus)(nil)
)

// NewKafkaBus creates a bus on the brokers in cfg.
func NewKafkaBus(cfg *Config, logger *slog.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           cfg.BatchTimeout,
	}

	return newKafkaBusWith(cfg, writer, logger), nil
}

func newKafkaBusWith(cfg *Config, writer kafkaMessageWriter, logger *slog.Logger) *KafkaBus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &KafkaBus{
		cfg:        cfg,
		writer:     writer,
		logger:     logger,
		instanceID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		readers:    make(map[*kafkaSubscription]struct{}),
		pending:    make(map[string]chan []byte),
	}

	b.ensureTopics = b.EnsureSubjects
	b.subscribeInbox = b.Subscribe

	return b
}

// TopicFor maps a subject onto a legal Kafka topic name. Separators become dots and
// anything outside [A-Za-z0-9._-] becomes an underscore. Reply subjects share the
// topic of their process inbox.
func TopicFor(subject string) string {
	if strings.HasPrefix(subject, inboxPrefix) {
		rest := strings.TrimPrefix(subject, inboxPrefix)
		if idx := strings.IndexByte(rest, '.'); idx >= 0 {
			rest = rest[:idx]
		}

		subject = inboxPrefix + rest
	}

	var b strings.Builder

	for _, r := range subject {
		switch {
		case r == ':':
			b.WriteByte('.')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}

// Publish writes msg to the topic of its subject, keyed by subject.
func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	if err := validateSubject(msg.Subject); err != nil {
		return err
	}

	if b.isClosed() {
		return ErrBusClosed
	}

	headers := []kafka.Header{{Key: headerSubject, Value: []byte(msg.Subject)}}
	if msg.Reply != "" {
		headers = append(headers, kafka.Header{Key: headerReply, Value: []byte(msg.Reply)})
	}

	for k, v := range msg.Header {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   TopicFor(msg.Subject),
		Key:     []byte(msg.Subject),
		Value:   msg.Data,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Subject, err)
	}

	return nil
}

// Subscribe starts a consumer-group reader on the subject's topic.
func (b *KafkaBus) Subscribe(_ context.Context, subject string) (Subscription, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}

	topic := TopicFor(subject)

	sub := &kafkaSubscription{
		bus:     b,
		subject: subject,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     b.cfg.Brokers,
			GroupID:     b.cfg.GroupID + "." + topic,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    readerMaxBytes,
			MaxWait:     readerMaxWait,
			StartOffset: kafka.FirstOffset,
		}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		_ = sub.reader.Close()

		return nil, ErrBusClosed
	}

	b.readers[sub] = struct{}{}

	return sub, nil
}

// Request publishes data with a reply subject on this process's inbox topic and waits.
func (b *KafkaBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := b.StartReplies(ctx); err != nil {
		return nil, err
	}

	reply := b.inboxSubject() + "." + strings.ReplaceAll(uuid.NewString(), "-", "")
	ch := make(chan []byte, 1)

	b.mu.Lock()
	b.pending[reply] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, reply)
		b.mu.Unlock()
	}()

	if err := b.Publish(ctx, Message{Subject: subject, Reply: reply, Data: data}); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRequestTimeout, subject, err)
		}

		return nil, err
	}

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestTimeout, subject, ctx.Err())
	}
}

// EnsureSubjects creates the topics of subjects, ignoring topics that already exist.
func (b *KafkaBus) EnsureSubjects(ctx context.Context, subjects ...string) error {
	if len(subjects) == 0 {
		return nil
	}

	topics := make([]kafka.TopicConfig, 0, len(subjects))
	for _, s := range subjects {
		topics = append(topics, kafka.TopicConfig{
			Topic:             TopicFor(s),
			NumPartitions:     1,
			ReplicationFactor: b.cfg.ReplicationFactor,
		})
	}

	client := &kafka.Client{Addr: kafka.TCP(b.cfg.Brokers...)}

	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: topics})
	if err != nil {
		return fmt.Errorf("kafka create topics: %w", err)
	}

	var errs []error

	for topic, topicErr := range resp.Errors {
		if topicErr != nil && !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, topicErr))
		}
	}

	return errors.Join(errs...)
}

// Close stops the inbox loop, closes every reader and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true

	subs := make([]*kafkaSubscription, 0, len(b.readers))
	for sub := range b.readers {
		subs = append(subs, sub)
	}

	b.readers = make(map[*kafkaSubscription]struct{})
	cancel := b.inboxCancel
	done := b.inboxDone
	b.mu.Unlock()

	var errs []error

	if cancel != nil {
		cancel()
		<-done
	}

	for _, sub := range subs {
		if err := sub.closeReader(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (b *KafkaBus) inboxSubject() string {
	return inboxPrefix + b.instanceID
}

func (b *KafkaBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

// StartReplies provisions this process's inbox topic and starts the reply dispatcher.
// It is a no-op once setup has succeeded. A failed attempt leaves nothing behind.
func (b *KafkaBus) StartReplies(ctx context.Context) error {
	b.inboxMu.Lock()
	defer b.inboxMu.Unlock()

	if b.inboxStarted {
		return nil
	}

	if b.isClosed() {
		return ErrBusClosed
	}

	if err := b.ensureTopics(ctx, b.inboxSubject()); err != nil {
		return fmt.Errorf("reply inbox: %w", err)
	}

	sub, err := b.subscribeInbox(ctx, b.inboxSubject())
	if err != nil {
		return fmt.Errorf("reply inbox: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = sub.Close()

		return ErrBusClosed
	}

	b.inboxCancel = cancel
	b.inboxDone = done
	b.mu.Unlock()

	b.inboxStarted = true

	go b.dispatchReplies(loopCtx, sub, done)

	return nil
}

func (b *KafkaBus) dispatchReplies(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSubscriptionClosed) {
				return
			}

			b.logger.Warn("Inbox read failed", slog.String("error", err.Error()))

			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[msg.Subject]
		b.mu.Unlock()

		if !ok {
			b.logger.Debug("Dropping reply without waiting request", slog.String("subject", msg.Subject))

			continue
		}

		select {
		case ch <- msg.Data:
		default:
		}
	}
}

func (s *kafkaSubscription) Next(ctx context.Context) (Message, error) {
	m, err := s.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrSubscriptionClosed
		}

		return Message{}, err
	}

	msg := Message{Subject: s.subject, Data: m.Value}

	for _, h := range m.Headers {
		switch h.Key {
		case headerSubject:
			msg.Subject = string(h.Value)
		case headerReply:
			msg.Reply = string(h.Value)
		default:
			if msg.Header == nil {
				msg.Header = make(map[string]string)
			}

			msg.Header[h.Key] = string(h.Value)
		}
	}

	return msg, nil
}

func (s *kafkaSubscription) Subject() string {
	return s.subject
}

func (s *kafkaSubscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.readers, s)
	s.bus.mu.Unlock()

	return s.closeReader()
}

func (s *kafkaSubscription) closeReader() error {
	var err error

	s.once.Do(func() {
		err = s.reader.Close()
	})

	return err
}
