// Package bus is the publish/subscribe transport between pipeline stages.
//
// Subjects are plain strings of the form "{prefix}:{stage}:{partition}". Delivery is
// best-effort and at most once: a message published while nobody subscribes to its subject
// is lost, and nothing in flight survives a restart. Request/reply is built on top of
// publish/subscribe with a per-request reply subject.
package bus

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Pipeline stages used in subject names.
const (
	StageEnrichment = "enrichment"
	StagePersist    = "persist"
	StageQuery      = "query"
	StageDeadLetter = "deadletter"
)

const inboxPrefix = "_INBOX."

var (
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("bus closed")

	// ErrSubscriptionClosed is returned by Next after the subscription was closed.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrNoResponders is returned by Request when nothing subscribes to the subject.
	ErrNoResponders = errors.New("no responders")

	// ErrRequestTimeout is returned by Request when no reply arrives before the context ends.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrInvalidSubject is returned for empty subjects.
	ErrInvalidSubject = errors.New("invalid subject")
)

type (
	// Message is one unit of delivery. Reply, when set, is the subject a responder
	// publishes its answer to.
	Message struct {
		Subject string
		Reply   string
		Data    []byte
		Header  map[string]string
	}

	// Subscription yields the messages published to one subject.
	Subscription interface {
		// Next blocks until a message arrives, ctx ends or the subscription is closed.
		Next(ctx context.Context) (Message, error)

		// Subject returns the subscribed subject.
		Subject() string

		Close() error
	}

	// Bus is the transport shared by every worker of the process.
	Bus interface {
		Publish(ctx context.Context, msg Message) error
		Subscribe(ctx context.Context, subject string) (Subscription, error)

		// Request publishes data with a fresh reply subject and waits for the first reply.
		Request(ctx context.Context, subject string, data []byte) ([]byte, error)

		Close() error
	}

	// SubjectEnsurer is implemented by transports that must provision subjects before use.
	SubjectEnsurer interface {
		EnsureSubjects(ctx context.Context, subjects ...string) error
	}

	// ReplyListener is implemented by transports whose request/reply path needs a
	// long-lived listener. StartReplies is safe to call again after a failure.
	ReplyListener interface {
		StartReplies(ctx context.Context) error
	}
)

// Subject builds "{prefix}:{stage}:{partition}".
func Subject(prefix, stage string, partition int) string {
	return prefix + ":" + stage + ":" + strconv.Itoa(partition)
}

// PartitionOf extracts the partition index from a subject built by Subject.
// It returns -1 when the subject has no numeric suffix.
func PartitionOf(subject string) int {
	idx := strings.LastIndexByte(subject, ':')
	if idx < 0 {
		return -1
	}

	n, err := strconv.Atoi(subject[idx+1:])
	if err != nil {
		return -1
	}

	return n
}

func validateSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return ErrInvalidSubject
	}

	return nil
}
