package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amandeep-boot/simple-auth-file-microservices/internal/domain"
	pkgkafka "github.com/amandeep-boot/simple-auth-file-microservices/pkg/kafka"
)

// Kafka topics for auth domain events.
const (
	TopicUserRegistered      = "auth.user.registered"
	TopicUserPasswordChanged = "auth.user.password_changed"
)

const (
	aggregateTypeUser = "user"
	sourceAuthService = "auth-service"
)

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UserPasswordChangedData is the payload for a user.password_changed event.
// All sessions for the user are revoked when this fires.
type UserPasswordChangedData struct {
	UserID string `json:"user_id"`
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{ID: user.ID, Email: user.Email}

	event, err := pkgkafka.NewEvent(TopicUserRegistered, user.ID, aggregateTypeUser, sourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.registered event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.registered event",
		slog.String("user_id", user.ID),
	)

	return nil
}

// PublishUserPasswordChanged publishes a user.password_changed event.
func (p *Producer) PublishUserPasswordChanged(ctx context.Context, userID string) error {
	data := UserPasswordChangedData{UserID: userID}

	event, err := pkgkafka.NewEvent(TopicUserPasswordChanged, userID, aggregateTypeUser, sourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.password_changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserPasswordChanged, event); err != nil {
		return fmt.Errorf("publish user.password_changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.password_changed event",
		slog.String("user_id", userID),
	)

	return nil
}
