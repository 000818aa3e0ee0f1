package webhook

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Registration records where a user's events are expected to be pushed from.
// It is informational and is not consulted by the ingestion pipeline.
type Registration struct {
	UserID      string    `json:"userId"`
	CallbackURL string    `json:"callbackUrl"`
	EventTypes  []string  `json:"eventTypes"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RegistrationRequest is the body of the registration endpoint.
type RegistrationRequest struct {
	UserID      string   `json:"userId" validate:"required,max=256"`
	CallbackURL string   `json:"callbackUrl" validate:"required,url"`
	EventTypes  []string `json:"eventTypes" validate:"omitempty,dive,required,max=64"`
}

var validate = newValidator()

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate trims the request and checks required fields.
func (r *RegistrationRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.CallbackURL = strings.TrimSpace(r.CallbackURL)
	for i := range r.EventTypes {
		r.EventTypes[i] = strings.TrimSpace(r.EventTypes[i])
	}
	return validate.Struct(r)
}

// RegistrationStore persists registrations keyed by user id.
type RegistrationStore interface {
	SaveRegistration(ctx context.Context, reg Registration) (Registration, error)
	LookupRegistration(ctx context.Context, userID string) (Registration, bool, error)
}

// MemoryRegistrations is the in-process RegistrationStore.
type MemoryRegistrations struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

func NewMemoryRegistrations() *MemoryRegistrations {
	return &MemoryRegistrations{regs: make(map[string]Registration)}
}

// SaveRegistration upserts by user id, keeping the original creation time.
func (m *MemoryRegistrations) SaveRegistration(_ context.Context, reg Registration) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.regs[reg.UserID]; ok {
		reg.CreatedAt = existing.CreatedAt
	} else {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	m.regs[reg.UserID] = reg
	return reg, nil
}

func (m *MemoryRegistrations) LookupRegistration(_ context.Context, userID string) (Registration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[userID]
	return reg, ok, nil
}
