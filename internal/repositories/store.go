package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"chat-relay/internal/models"
)

// MessageStore is the append-only record of group and direct messages.
// Histories are returned oldest first, ordered by the sequence assigned on append.
type MessageStore interface {
	AppendGroupMessage(ctx context.Context, sender, room, body string) (models.GroupMessage, error)
	AppendDirectMessage(ctx context.Context, sender, recipient, body string) (models.DirectMessage, error)
	ListRoomHistory(ctx context.Context, room string) ([]models.GroupMessage, error)
	ListDirectHistory(ctx context.Context, userA, userB string) ([]models.DirectMessage, error)
}

// ValidationError reports required fields that were empty.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Store operations named in StorageError.Op.
const (
	OpAppendGroup  = "append group message"
	OpAppendDirect = "append direct message"
	OpListRoom     = "list room history"
	OpListDirect   = "list direct history"
)

// StorageOps lists every Op a StorageError can carry.
var StorageOps = []string{OpAppendGroup, OpAppendDirect, OpListRoom, OpListDirect}

// StorageError wraps a failure of the durable backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// AuditText is the audit_log text recorded for the failure.
func (e *StorageError) AuditText() string {
	return e.Op + " failed: " + e.Error()
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

var validate = validator.New()

type groupRecord struct {
	Sender string `validate:"required"`
	Room   string `validate:"required"`
	Body   string `validate:"required"`
}

type directRecord struct {
	Sender    string `validate:"required"`
	Recipient string `validate:"required"`
	Body      string `validate:"required"`
}

func validateGroup(sender, room, body string) error {
	return validateStruct(groupRecord{Sender: sender, Room: room, Body: body})
}

func validateDirect(sender, recipient, body string) error {
	return validateStruct(directRecord{Sender: sender, Recipient: recipient, Body: body})
}

// ValidateStruct checks validate tags and converts failures into a *ValidationError.
func ValidateStruct(v any) error {
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return &ValidationError{Fields: fields}
}

// pairKey orders two identities so either direction maps to the same conversation.
func pairKey(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
