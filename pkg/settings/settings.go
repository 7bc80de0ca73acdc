package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// ErrInvalidPatch is returned for patches naming an unknown field or carrying a mistyped value
var ErrInvalidPatch = errors.New("invalid payment method patch")

const maxSaveAttempts = 5

// Patchable payment method fields
const (
	FieldUpiID     = "upiId"
	FieldActive    = "active"
	FieldPublished = "published"
	FieldName      = "name"
	FieldIcon      = "icon"
)

// DefaultMethods returns the payment methods offered before anything is saved
func DefaultMethods() []models.PaymentMethod {
	return []models.PaymentMethod{
		{ID: "phonepe", Name: "PhonePe", Icon: "📱"},
		{ID: "googlepay", Name: "Google Pay", Icon: "🟣"},
		{ID: "paytm", Name: "Paytm", Icon: "🔵"},
		{ID: "qr", Name: "QR Code", Icon: "📋"},
	}
}

// Patch changes one field of one payment method
type Patch struct {
	MethodID string `json:"methodId"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
}

// Service reads and writes the payment settings document held by the catalog
type Service struct {
	store catalog.Store
	log   *logrus.Entry
}

// NewService creates a Service
func NewService(store catalog.Store, log *logrus.Entry) *Service {
	return &Service{store: store, log: log}
}

// Get returns the stored settings, or the defaults at version 0 when none are stored yet
func (s *Service) Get(ctx context.Context) (*models.PaymentSettings, error) {
	ps, err := s.store.GetPaymentSettings(ctx)
	if errors.Is(err, utils.ErrNotFound) {
		return &models.PaymentSettings{Methods: DefaultMethods()}, nil
	}
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// Published returns the methods shown on the donation page:
// active, published and carrying a UPI ID.
func (s *Service) Published(ctx context.Context) ([]models.PaymentMethod, error) {
	ps, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.PaymentMethod{}
	for _, m := range ps.Methods {
		if m.Active && m.Published && strings.TrimSpace(m.UpiID) != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

// Replace stores methods as the complete list
func (s *Service) Replace(ctx context.Context, methods []models.PaymentMethod) (*models.PaymentSettings, error) {
	cleaned := make([]models.PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("%w: method without id", ErrInvalidPatch)
		}
		m.UpiID = strings.TrimSpace(m.UpiID)
		cleaned = append(cleaned, m)
	}
	return s.update(ctx, func(ps *models.PaymentSettings) error {
		ps.Methods = cleaned
		return nil
	})
}

// Apply updates a single field of one method
func (s *Service) Apply(ctx context.Context, p Patch) (*models.PaymentSettings, error) {
	if p.MethodID == "" || p.Field == "" {
		return nil, fmt.Errorf("%w: method ID and field are required", ErrInvalidPatch)
	}
	return s.update(ctx, func(ps *models.PaymentSettings) error {
		for i := range ps.Methods {
			if ps.Methods[i].ID == p.MethodID {
				return setField(&ps.Methods[i], p.Field, p.Value)
			}
		}
		return fmt.Errorf("%w: payment method '%s'", utils.ErrNotFound, p.MethodID)
	})
}

// update re-reads and re-applies mutate until the versioned save wins
func (s *Service) update(ctx context.Context, mutate func(*models.PaymentSettings) error) (*models.PaymentSettings, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		current, err := s.Get(ctx)
		if err != nil {
			return nil, err
		}
		expected := current.Version
		next := &models.PaymentSettings{
			Methods: append([]models.PaymentMethod(nil), current.Methods...),
		}
		if err := mutate(next); err != nil {
			return nil, err
		}
		err = s.store.SavePaymentSettings(ctx, next, expected)
		if err == nil {
			s.log.WithField("version", next.Version).Info("Saved payment settings")
			return next, nil
		}
		if !errors.Is(err, utils.ErrConflict) {
			s.log.Errorf("Failed to save payment settings: %v", err)
			return nil, err
		}
		lastErr = err
		s.log.WithField("attempt", attempt).Debugf("Payment settings changed concurrently, retrying: %v", err)
	}
	return nil, lastErr
}

func setField(m *models.PaymentMethod, field string, value any) error {
	switch field {
	case FieldUpiID, FieldName, FieldIcon:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: field '%s' needs a string", ErrInvalidPatch, field)
		}
		switch field {
		case FieldUpiID:
			m.UpiID = strings.TrimSpace(str)
		case FieldName:
			m.Name = str
		default:
			m.Icon = str
		}
	case FieldActive, FieldPublished:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: field '%s' needs a boolean", ErrInvalidPatch, field)
		}
		if field == FieldActive {
			m.Active = b
		} else {
			m.Published = b
		}
	default:
		return fmt.Errorf("%w: unknown field '%s'", ErrInvalidPatch, field)
	}
	return nil
}
