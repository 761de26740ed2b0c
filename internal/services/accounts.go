package services

import (
	"context"
	"fmt"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// AccountService is the admin-only view of the Directory. Every mutation is
// audited under the acting admin's username.
type AccountService struct {
	directory *Directory
	audit     audit.Recorder
}

// NewAccountService creates an AccountService.
func NewAccountService(directory *Directory, recorder audit.Recorder) *AccountService {
	return &AccountService{directory: directory, audit: recorder}
}

func (s *AccountService) authorize(p auth.Principal) error {
	if !p.Can(auth.ActionManageAccounts) {
		return apperr.ErrPermissionDenied
	}
	return nil
}

// List returns every account summary in ascending id order.
func (s *AccountService) List(ctx context.Context, p auth.Principal) ([]models.AccountSummary, error) {
	if err := s.authorize(p); err != nil {
		return nil, err
	}
	return s.directory.ListAll(ctx)
}

// Approve marks account id approved.
func (s *AccountService) Approve(ctx context.Context, p auth.Principal, id int64) error {
	if err := s.authorize(p); err != nil {
		return err
	}
	err := s.directory.Approve(ctx, id)
	s.record(ctx, p, "approve", fmt.Sprintf("Approve user %d", id), err)
	return err
}

// SetRole assigns role to account id.
func (s *AccountService) SetRole(ctx context.Context, p auth.Principal, id int64, role models.Role) error {
	if err := s.authorize(p); err != nil {
		return err
	}
	if !role.Valid() {
		return apperr.ErrInvalidRole
	}
	err := s.directory.SetRole(ctx, id, role)
	s.record(ctx, p, "set_role", fmt.Sprintf("Set role %s for user %d", role, id), err)
	return err
}

// Delete removes account id.
func (s *AccountService) Delete(ctx context.Context, p auth.Principal, id int64) error {
	if err := s.authorize(p); err != nil {
		return err
	}
	err := s.directory.Delete(ctx, id)
	s.record(ctx, p, "delete", fmt.Sprintf("Delete user %d", id), err)
	return err
}

func (s *AccountService) record(ctx context.Context, p auth.Principal, operation, action string, err error) {
	if err != nil {
		s.audit.Record(ctx, p.Username, action, audit.StatusFailed, apperr.Detail(err))
		return
	}
	telemetry.AccountChangesTotal.WithLabelValues(operation).Inc()
	s.audit.Record(ctx, p.Username, action, audit.StatusSuccess, "")
}
