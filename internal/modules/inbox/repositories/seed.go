package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gorm.io/datatypes"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// SeedFile is the JSON layout of SEED_FILE. Credentials are not part of
// the API models' JSON, so the seed carries its own shape.
type SeedFile struct {
	Platforms []struct {
		TenantID         string                 `json:"tenant_id"`
		PlatformID       string                 `json:"platform_id"`
		AccountRef       string                 `json:"account_ref"`
		Credentials      map[string]interface{} `json:"credentials"`
		VerifyToken      string                 `json:"verify_token"`
		AutoReplyEnabled *bool                  `json:"auto_reply_enabled"`
		GreetingMessage  string                 `json:"greeting_message"`
		IsActive         *bool                  `json:"is_active"`
	} `json:"platforms"`

	Automations []struct {
		TenantID         string                `json:"tenant_id"`
		PlatformID       string                `json:"platform_id"`
		Name             string                `json:"name"`
		Type             models.AutomationType `json:"type"`
		TriggerKeywords  []string              `json:"trigger_keywords"`
		ResponseTemplate string                `json:"response_template"`
		Priority         int                   `json:"priority"`
		IsActive         *bool                 `json:"is_active"`
	} `json:"automations"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// LoadSeed reads path and writes its platform configs and automations to
// store. Platform configs are upserted by route and automations by tenant,
// platform and name, so loading the same file again changes nothing.
func LoadSeed(ctx context.Context, store Store, path string) (platforms, automations int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, 0, fmt.Errorf("parse seed file: %w", err)
	}

	for _, p := range seed.Platforms {
		cfg := &models.PlatformConfig{
			TenantID:         p.TenantID,
			PlatformID:       p.PlatformID,
			AccountRef:       p.AccountRef,
			Credentials:      datatypes.JSONMap(p.Credentials),
			VerifyToken:      p.VerifyToken,
			AutoReplyEnabled: boolOr(p.AutoReplyEnabled, true),
			GreetingMessage:  p.GreetingMessage,
			IsActive:         boolOr(p.IsActive, true),
		}
		if err := store.SavePlatformConfig(ctx, cfg); err != nil {
			return platforms, automations, fmt.Errorf("seed platform %s/%s: %w", p.PlatformID, p.AccountRef, err)
		}
		platforms++
	}

	for _, a := range seed.Automations {
		rule := &models.AutomationRule{
			TenantID:         a.TenantID,
			PlatformID:       a.PlatformID,
			Name:             a.Name,
			Type:             a.Type,
			TriggerKeywords:  a.TriggerKeywords,
			ResponseTemplate: a.ResponseTemplate,
			Priority:         a.Priority,
			IsActive:         boolOr(a.IsActive, true),
		}
		if rule.Type == "" {
			rule.Type = models.AutomationKeyword
		}
		if err := store.SaveAutomation(ctx, rule); err != nil {
			return platforms, automations, fmt.Errorf("seed automation %q: %w", a.Name, err)
		}
		automations++
	}
	return platforms, automations, nil
}
