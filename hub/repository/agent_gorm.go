package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conduitchat/conduit/hub/domain/agent"
	"github.com/conduitchat/conduit/hub/domain/storage"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// --- Persistence Models ---

type agentModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"index:idx_agents_name;not null"`
	Active    bool   `gorm:"default:true"`
	Settings  string `gorm:"type:text;default:'{}'"` // JSON
	CreatedAt time.Time
	UpdatedAt time.Time

	Prompts []promptModel `gorm:"foreignKey:AgentID;constraint:OnDelete:CASCADE"`
}

func (agentModel) TableName() string {
	return "ai_agents"
}

type promptModel struct {
	ID           string `gorm:"primaryKey"`
	AgentID      string `gorm:"index:idx_prompts_agent;not null"`
	TriggerWords string `gorm:"type:text;default:'[]'"` // JSON
	Priority     int    `gorm:"default:0"`
	Active       bool   `gorm:"default:true"`
	Template     string `gorm:"type:text"`
	Conditions   string `gorm:"type:text;default:'null'"` // JSON
	CreatedAt    time.Time
}

func (promptModel) TableName() string {
	return "ai_agent_prompts"
}

// OpenAgentDB opens the agent catalog database. A postgres:// DSN selects
// the postgres driver, anything else is treated as a sqlite file path.
func OpenAgentDB(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", dsn))
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// --- Repository Implementation ---

// AgentGormStore implements agent.Store on GORM (sqlite or postgres).
type AgentGormStore struct {
	db *gorm.DB
}

func NewAgentGormStore(db *gorm.DB) *AgentGormStore {
	return &AgentGormStore{db: db}
}

func (r *AgentGormStore) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&agentModel{}, &promptModel{})
}

func (r *AgentGormStore) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	var model agentModel
	result := r.db.WithContext(ctx).Preload("Prompts").First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return fromAgentModel(&model)
}

func (r *AgentGormStore) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	var models []agentModel
	result := r.db.WithContext(ctx).Preload("Prompts").Order("created_at").Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	out := make([]agent.Agent, 0, len(models))
	for i := range models {
		a, err := fromAgentModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *AgentGormStore) SaveAgent(ctx context.Context, a *agent.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	settings, err := json.Marshal(a.Settings)
	if err != nil {
		return err
	}
	model := agentModel{
		ID:        a.ID,
		Name:      a.Name,
		Active:    a.Active,
		Settings:  string(settings),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *AgentGormStore) DeleteAgent(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&promptModel{}, "agent_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&agentModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func (r *AgentGormStore) SavePrompt(ctx context.Context, p *agent.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	triggers, err := json.Marshal(p.TriggerWords)
	if err != nil {
		return err
	}
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return err
	}
	model := promptModel{
		ID:           p.ID,
		AgentID:      p.AgentID,
		TriggerWords: string(triggers),
		Priority:     p.Priority,
		Active:       p.Active,
		Template:     p.Template,
		Conditions:   string(conditions),
		CreatedAt:    p.CreatedAt,
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *AgentGormStore) DeletePrompt(ctx context.Context, agentID, promptID string) error {
	result := r.db.WithContext(ctx).Delete(&promptModel{}, "id = ? AND agent_id = ?", promptID, agentID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- Mapping ---

func fromAgentModel(model *agentModel) (*agent.Agent, error) {
	a := agent.Agent{
		ID:        model.ID,
		Name:      model.Name,
		Active:    model.Active,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.Settings != "" {
		if err := json.Unmarshal([]byte(model.Settings), &a.Settings); err != nil {
			return nil, fmt.Errorf("corrupt settings for agent %s: %w", model.ID, err)
		}
	}

	a.Prompts = make([]agent.Prompt, 0, len(model.Prompts))
	for _, pm := range model.Prompts {
		p := agent.Prompt{
			ID:        pm.ID,
			AgentID:   pm.AgentID,
			Priority:  pm.Priority,
			Active:    pm.Active,
			Template:  pm.Template,
			CreatedAt: pm.CreatedAt,
		}
		_ = json.Unmarshal([]byte(pm.TriggerWords), &p.TriggerWords)
		if pm.Conditions != "" && pm.Conditions != "null" {
			_ = json.Unmarshal([]byte(pm.Conditions), &p.Conditions)
		}
		a.Prompts = append(a.Prompts, p)
	}
	return &a, nil
}
