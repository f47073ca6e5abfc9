package notification

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// KindTransferCommitted indicates a wallet-to-wallet transfer was committed.
	KindTransferCommitted = "transfer_committed"
)

// Message describes a notification payload.
type Message struct {
	Kind string
	// Key groups related messages, e.g. a Kafka partition key.
	Key         string
	Destination string
	Body        []byte
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// TransferEvent is the body of a KindTransferCommitted message.
type TransferEvent struct {
	TransferID        string          `json:"transfer_id"`
	SenderUserID      string          `json:"sender_user_id"`
	SenderWalletID    int64           `json:"sender_wallet_id"`
	RecipientUserID   string          `json:"recipient_user_id"`
	RecipientWalletID int64           `json:"recipient_wallet_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// NewTransferMessage encodes a transfer event addressed to the recipient.
func NewTransferMessage(evt TransferEvent) (Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Kind:        KindTransferCommitted,
		Key:         strconv.FormatInt(evt.SenderWalletID, 10),
		Destination: evt.RecipientUserID,
		Body:        body,
	}, nil
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *logrus.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *logrus.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.WithFields(logrus.Fields{
		"kind":        message.Kind,
		"key":         message.Key,
		"destination": message.Destination,
		"body":        string(message.Body),
	}).Info("notification")
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Send delivers to all notifiers even when some fail.
func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
