package service

import (
	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/apexai/nexus/pkg/template"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CatalogService manages credentials and the models that reference them.
type CatalogService struct {
	store    storage.Store
	logger   Logger
	validate *validator.Validate
}

func NewCatalogService(store storage.Store, logger Logger) *CatalogService {
	return &CatalogService{
		store:    store,
		logger:   logger,
		validate: validator.New(),
	}
}

// SaveCredential creates or replaces a credential. An empty ID gets a fresh one.
func (s *CatalogService) SaveCredential(c models.Credential) (models.Credential, error) {
	if err := s.validate.Struct(c); err != nil {
		return models.Credential{}, errors.Wrap(ErrValidation, err.Error())
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.store.SaveCredential(c); err != nil {
		s.logger.Errorf("Failed to save credential '%s': %v", c.Name, err)
		return models.Credential{}, errors.Wrap(err, "save credential")
	}
	s.logger.Infof("Saved credential '%s' with ID %s", c.Name, c.ID)
	return c, nil
}

func (s *CatalogService) GetCredential(id string) (models.Credential, error) {
	c, err := s.store.GetCredential(id)
	if err != nil {
		return models.Credential{}, errors.Wrapf(err, "failed to get credential %s", id)
	}
	return c, nil
}

func (s *CatalogService) ListCredentials() ([]models.Credential, error) {
	return s.store.ListCredentials()
}

func (s *CatalogService) DeleteCredential(id string) error {
	if err := s.store.DeleteCredential(id); err != nil {
		return errors.Wrapf(err, "failed to delete credential %s", id)
	}
	s.logger.Infof("Deleted credential %s", id)
	return nil
}

// SaveModel creates or replaces a model. A model may reference a credential that
// does not exist yet; submission rejects it until the credential is created.
func (s *CatalogService) SaveModel(m models.Model) (models.Model, error) {
	if err := s.validate.Struct(m); err != nil {
		return models.Model{}, errors.Wrap(ErrValidation, err.Error())
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, err := s.store.GetCredential(m.CredentialID); errors.Is(err, storage.ErrNotFound) {
		s.logger.Warnf("Model '%s' references unknown credential %s", m.Name, m.CredentialID)
	}
	if err := s.store.SaveModel(m); err != nil {
		s.logger.Errorf("Failed to save model '%s': %v", m.Name, err)
		return models.Model{}, errors.Wrap(err, "save model")
	}
	s.logger.Infof("Saved model '%s' with ID %s", m.Name, m.ID)
	return m, nil
}

func (s *CatalogService) GetModel(id string) (models.Model, error) {
	m, err := s.store.GetModel(id)
	if err != nil {
		return models.Model{}, errors.Wrapf(err, "failed to get model %s", id)
	}
	return m, nil
}

func (s *CatalogService) ListModels() ([]models.Model, error) {
	return s.store.ListModels()
}

func (s *CatalogService) DeleteModel(id string) error {
	if err := s.store.DeleteModel(id); err != nil {
		return errors.Wrapf(err, "failed to delete model %s", id)
	}
	s.logger.Infof("Deleted model %s", id)
	return nil
}

// ModelFields parses the model's body template into its input form fields.
func (s *CatalogService) ModelFields(id string) ([]models.Field, error) {
	m, err := s.GetModel(id)
	if err != nil {
		return nil, err
	}
	return template.Parse(m.BodyTemplate), nil
}
