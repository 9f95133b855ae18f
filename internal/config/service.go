package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tildaslashalef/kbpicker/internal/loggy"
)

// SettingsService provides operations for managing application settings
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *sql.DB, config *Config, logger *loggy.Logger) *SettingsService {
	return NewSettingsServiceWithRepository(NewSQLSettingsRepository(db, logger), config, logger)
}

// NewSettingsServiceWithRepository creates a settings service on top of repo
func NewSettingsServiceWithRepository(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// GetSetting retrieves a setting by key
func (s *SettingsService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repo.GetSetting(ctx, key)
}

// SetSetting sets a setting value
func (s *SettingsService) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

// GetRepository returns the underlying repository
func (s *SettingsService) GetRepository() SettingsRepository {
	return s.repo
}

// LoadAuthSettings fills the access token from the database unless one was
// configured explicitly
func (s *SettingsService) LoadAuthSettings(ctx context.Context) error {
	if s.config.Auth.AccessToken != "" {
		return nil
	}
	settings, err := s.repo.GetSettings(ctx, "auth.")
	if err != nil {
		return fmt.Errorf("loading auth settings: %w", err)
	}
	if token := settings[KeyAccessToken]; token != "" {
		s.config.Auth.AccessToken = token
	}
	if email := settings[KeyAuthEmail]; email != "" && s.config.Auth.Email == "" {
		s.config.Auth.Email = email
	}
	return nil
}

// SaveLogin stores the access token obtained for email
func (s *SettingsService) SaveLogin(ctx context.Context, email, token string) error {
	s.config.Auth.AccessToken = token
	s.config.Auth.Email = email

	if err := s.repo.SetSetting(ctx, KeyAccessToken, token); err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	if err := s.repo.SetSetting(ctx, KeyAuthEmail, email); err != nil {
		return fmt.Errorf("saving email: %w", err)
	}
	return nil
}

// ClearLogin removes the stored access token
func (s *SettingsService) ClearLogin(ctx context.Context) error {
	s.config.Auth.AccessToken = ""
	if err := s.repo.DeleteSetting(ctx, KeyAccessToken); err != nil {
		return fmt.Errorf("clearing access token: %w", err)
	}
	return nil
}

// ActiveKnowledgeBase returns the knowledge base the CLI operates on, empty
// strings when none is set
func (s *SettingsService) ActiveKnowledgeBase(ctx context.Context) (string, string, error) {
	settings, err := s.repo.GetSettings(ctx, "kb.")
	if err != nil {
		return "", "", fmt.Errorf("loading knowledge base settings: %w", err)
	}
	return settings[KeyKnowledgeBase], settings[KeyConnectionID], nil
}

// SetActiveKnowledgeBase records the knowledge base and its connection
func (s *SettingsService) SetActiveKnowledgeBase(ctx context.Context, knowledgeBaseID, connectionID string) error {
	if err := s.repo.SetSetting(ctx, KeyKnowledgeBase, knowledgeBaseID); err != nil {
		return fmt.Errorf("saving knowledge base id: %w", err)
	}
	if connectionID == "" {
		return nil
	}
	if err := s.repo.SetSetting(ctx, KeyConnectionID, connectionID); err != nil {
		return fmt.Errorf("saving connection id: %w", err)
	}
	return nil
}

// ForgetKnowledgeBase clears the active knowledge base. The connection id is
// kept so the next include can create a new one without a lookup.
func (s *SettingsService) ForgetKnowledgeBase(ctx context.Context) error {
	if err := s.repo.DeleteSetting(ctx, KeyKnowledgeBase); err != nil {
		return fmt.Errorf("clearing knowledge base id: %w", err)
	}
	return nil
}
