package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

// Service-level outcomes. Handlers translate these to specific HTTP
// responses; anything else is a generic failure.
var (
	ErrEmptyName     = errors.New("room: display name required")
	ErrEmptyCode     = errors.New("room: field code required")
	ErrFieldNotFound = errors.New("room: field not found")
	ErrFieldFull     = errors.New("room: field already has two partners")
	ErrNotPartner    = errors.New("room: caller is not a partner in this field")
)

// createAttempts bounds retries against a code collision. The space is
// large enough that two collisions in a row already means something is
// broken.
const createAttempts = 5

// Service implements field lifecycle: create (role A), join (role B),
// settings, deactivation. Role assignment is positional: create is
// always partner-a, the first successful join is always partner-b,
// and the join transition is arbitrated by the store's conditional
// update, so a duplicate join is rejected instead of overwriting B.
type Service struct {
	fields repository.FieldRepository
	logger *zap.Logger
}

func NewService(fields repository.FieldRepository, logger *zap.Logger) *Service {
	return &Service{fields: fields, logger: logger}
}

// Create opens a new field with the caller in the A slot and returns the
// field plus the caller's fresh ephemeral participant identity.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, displayName string, paid bool) (*models.Field, *models.Participant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, nil, ErrEmptyName
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := NewCode()
		if err != nil {
			return nil, nil, err
		}

		field, err := s.fields.Create(ctx, &models.Field{
			Code:         code,
			Name:         displayName + "'s field",
			CreatorID:    userID,
			PartnerAID:   &userID,
			PartnerAName: displayName,
			GuidanceMode: models.GuidanceStandard,
		})
		if errors.Is(err, repository.ErrDuplicateCode) {
			s.logger.Warn("field code collision, regenerating", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("create field: %w", err)
		}

		return field, newParticipant(userID, displayName, models.RolePartnerA, paid), nil
	}

	return nil, nil, fmt.Errorf("create field: exhausted %d code attempts", createAttempts)
}

// Join claims the B slot of an existing field. The code is normalized to
// uppercase first; missing input fails before any store access.
func (s *Service) Join(ctx context.Context, code string, userID uuid.UUID, displayName string, paid bool) (*models.Field, *models.Participant, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil, ErrEmptyCode
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, nil, ErrEmptyName
	}

	field, err := s.fields.AttachPartner(ctx, code, userID, displayName)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrFieldNotFound
	}
	if errors.Is(err, repository.ErrFieldFull) {
		return nil, nil, ErrFieldFull
	}
	if err != nil {
		return nil, nil, fmt.Errorf("join field: %w", err)
	}

	return field, newParticipant(userID, displayName, models.RolePartnerB, paid), nil
}

// Get returns an active field by code, or ErrFieldNotFound.
func (s *Service) Get(ctx context.Context, code string) (*models.Field, error) {
	field, err := s.fields.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if field == nil || !field.Active {
		return nil, ErrFieldNotFound
	}
	return field, nil
}

// Rejoin rebuilds a participant identity for a partner already attached
// to the field, the reconnect path after a dropped socket. The identity
// is fresh (new ephemeral id) but the role is the one the slot holds.
func (s *Service) Rejoin(ctx context.Context, code string, userID uuid.UUID, paid bool) (*models.Field, *models.Participant, error) {
	field, err := s.Get(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	role := field.RoleOf(userID)
	if role == "" {
		return nil, nil, ErrNotPartner
	}
	name := field.PartnerAName
	if role == models.RolePartnerB {
		name = field.PartnerBName
	}
	return field, newParticipant(userID, name, role, paid), nil
}

// SetGuidanceMode validates and persists the field's guidance mode.
func (s *Service) SetGuidanceMode(ctx context.Context, code string, mode models.GuidanceMode) error {
	if !models.ValidGuidanceMode(mode) {
		return fmt.Errorf("room: unknown guidance mode %q", mode)
	}
	err := s.fields.SetGuidanceMode(ctx, NormalizeCode(code), mode)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFieldNotFound
	}
	return err
}

// Deactivate soft-deletes the field. Either partner may do this.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	err := s.fields.Deactivate(ctx, NormalizeCode(code))
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFieldNotFound
	}
	return err
}

// TouchActivity bumps the activity timestamp; failures are logged, not
// propagated, so activity tracking never blocks the message path.
func (s *Service) TouchActivity(ctx context.Context, code string) {
	if err := s.fields.TouchActivity(ctx, NormalizeCode(code)); err != nil {
		s.logger.Warn("touch activity failed", zap.String("code", code), zap.Error(err))
	}
}

// NormalizeCode uppercases and trims a user-typed field code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newParticipant(userID uuid.UUID, name string, role models.Role, paid bool) *models.Participant {
	return &models.Participant{
		ID:          uuid.New(),
		UserID:      userID,
		DisplayName: name,
		Role:        role,
		Online:      true,
		Paid:        paid,
	}
}
