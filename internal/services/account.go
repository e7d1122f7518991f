package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/observability"
)

type accountStore interface {
	CountDays(ctx context.Context, userID uuid.UUID) (int, error)
	GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
	UpsertCredentials(ctx context.Context, c *models.Credentials) error
	SwapToken(ctx context.Context, userID uuid.UUID, staleToken, appToken, remoteUserID string) (bool, error)
	DeleteCredentials(ctx context.Context, userID uuid.UUID) error
}

type tokenExchanger interface {
	Exchange(ctx context.Context, email, password string) (string, string, error)
}

type secretSealer interface {
	Seal(plaintext, userID string) (string, error)
	Open(sealed, userID string) (string, error)
}

type accountReader interface {
	FetchWorkoutHistory(ctx context.Context, creds *models.Credentials, limit int) ([]models.WorkoutSummary, error)
	FetchProfile(ctx context.Context, creds *models.Credentials) (json.RawMessage, error)
}

// AccountService owns the link between an app user and their Huami account.
// It is the only writer of app tokens.
type AccountService struct {
	store    accountStore
	exchange tokenExchanger
	box      secretSealer
	remote   accountReader
	logger   *slog.Logger

	flight singleflight.Group
	locks  keyedMutex
}

func NewAccountService(store accountStore, exchange tokenExchanger, box secretSealer, remote accountReader, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:    store,
		exchange: exchange,
		box:      box,
		remote:   remote,
		logger:   logger,
	}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Connect exchanges the Huami login for an app token and stores it with the
// sealed login so later refreshes need no user interaction.
func (s *AccountService) Connect(ctx context.Context, userID uuid.UUID, email, password string) (*models.Credentials, error) {
	fieldErrors := make(map[string]string)
	if !emailRegex.MatchString(email) {
		fieldErrors["email"] = "Invalid email format"
	}
	if password == "" {
		fieldErrors["password"] = "Password is required"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	appToken, remoteID, err := s.exchange.Exchange(ctx, email, password)
	if err != nil {
		return nil, err
	}

	emailEnc, err := s.box.Seal(email, userID.String())
	if err != nil {
		return nil, fmt.Errorf("seal email: %w", err)
	}
	passwordEnc, err := s.box.Seal(password, userID.String())
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}

	creds := &models.Credentials{
		UserID:       userID,
		RemoteUserID: remoteID,
		AppToken:     appToken,
		EmailEnc:     &emailEnc,
		PasswordEnc:  &passwordEnc,
	}

	unlock := s.locks.Lock(userID)
	defer unlock()
	if err := s.store.UpsertCredentials(ctx, creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	s.logger.Info("wearable connected", "user_id", userID, "remote_user_id", remoteID)
	return creds, nil
}

// Credentials returns the stored link or ErrNotConnected.
func (s *AccountService) Credentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	creds, err := s.store.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		return nil, ErrNotConnected
	}
	return creds, nil
}

// Refresh always performs a fresh token exchange.
func (s *AccountService) Refresh(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	return s.refresh(ctx, userID, "")
}

// RefreshIfStale exchanges a new token only if the stored one still equals
// staleToken. Concurrent callers for one user share a single exchange.
func (s *AccountService) RefreshIfStale(ctx context.Context, userID uuid.UUID, staleToken string) (*models.Credentials, error) {
	return s.refresh(ctx, userID, staleToken)
}

func (s *AccountService) refresh(ctx context.Context, userID uuid.UUID, staleToken string) (*models.Credentials, error) {
	v, err, _ := s.flight.Do(userID.String(), func() (interface{}, error) {
		unlock := s.locks.Lock(userID)
		defer unlock()

		creds, err := s.Credentials(ctx, userID)
		if err != nil {
			return nil, err
		}
		if staleToken != "" && creds.AppToken != staleToken {
			observability.RecordTokenRefresh("skipped")
			return creds, nil
		}
		if !creds.CanRefresh() {
			observability.RecordTokenRefresh("failed")
			return nil, &AuthError{Message: "wearable token rejected", Err: errors.New("no stored login to refresh with")}
		}

		email, err := s.box.Open(*creds.EmailEnc, userID.String())
		if err != nil {
			return nil, fmt.Errorf("open stored email: %w", err)
		}
		password, err := s.box.Open(*creds.PasswordEnc, userID.String())
		if err != nil {
			return nil, fmt.Errorf("open stored password: %w", err)
		}

		appToken, remoteID, err := s.exchange.Exchange(ctx, email, password)
		if err != nil {
			observability.RecordTokenRefresh("failed")
			return nil, err
		}

		swapped, err := s.store.SwapToken(ctx, userID, creds.AppToken, appToken, remoteID)
		if err != nil {
			return nil, fmt.Errorf("save refreshed token: %w", err)
		}
		if !swapped {
			// Another instance rotated the token first; theirs wins.
			observability.RecordTokenRefresh("skipped")
			return s.Credentials(ctx, userID)
		}

		observability.RecordTokenRefresh("ok")
		s.logger.Info("wearable token refreshed", "user_id", userID)
		creds.AppToken = appToken
		creds.RemoteUserID = remoteID
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	copied := *v.(*models.Credentials)
	return &copied, nil
}

func (s *AccountService) Disconnect(ctx context.Context, userID uuid.UUID) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.Credentials(ctx, userID); err != nil {
		return err
	}
	if err := s.store.DeleteCredentials(ctx, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	s.logger.Info("wearable disconnected", "user_id", userID)
	return nil
}

// Status describes the link and how many days are cached for it.
func (s *AccountService) Status(ctx context.Context, userID uuid.UUID) (models.ConnectionStatus, error) {
	creds, err := s.Credentials(ctx, userID)
	if err != nil {
		return models.ConnectionStatus{}, err
	}
	status := models.StatusOf(creds)
	if status.DaysCached, err = s.store.CountDays(ctx, userID); err != nil {
		return models.ConnectionStatus{}, fmt.Errorf("count cached days: %w", err)
	}
	return status, nil
}

// Workouts lists recent workouts.
func (s *AccountService) Workouts(ctx context.Context, userID uuid.UUID, limit int) ([]models.WorkoutSummary, error) {
	if limit < 0 || limit > DefaultWorkoutLimit {
		return nil, &ValidationError{Fields: map[string]string{"limit": fmt.Sprintf("must be between 0 and %d", DefaultWorkoutLimit)}}
	}

	var list []models.WorkoutSummary
	err := s.withToken(ctx, userID, func(creds *models.Credentials) error {
		var err error
		list, err = s.remote.FetchWorkoutHistory(ctx, creds, limit)
		return err
	})
	if errors.Is(err, ErrNoData) {
		return []models.WorkoutSummary{}, nil
	}
	return list, err
}

// Profile returns the Huami account profile as served. An account without a
// profile yields an empty object.
func (s *AccountService) Profile(ctx context.Context, userID uuid.UUID) (json.RawMessage, error) {
	var profile json.RawMessage
	err := s.withToken(ctx, userID, func(creds *models.Credentials) error {
		var err error
		profile, err = s.remote.FetchProfile(ctx, creds)
		return err
	})
	if errors.Is(err, ErrNoData) {
		return json.RawMessage(`{}`), nil
	}
	return profile, err
}

// withToken runs call with the stored token and, if Huami rejects it, once
// more after a refresh.
func (s *AccountService) withToken(ctx context.Context, userID uuid.UUID, call func(creds *models.Credentials) error) error {
	creds, err := s.Credentials(ctx, userID)
	if err != nil {
		return err
	}

	err = call(creds)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return err
	}

	creds, err = s.RefreshIfStale(ctx, userID, creds.AppToken)
	if err != nil {
		return err
	}
	return call(creds)
}
