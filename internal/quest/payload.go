package quest

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed content decoded from a quest's opaque quest_json field.
// Exactly one concrete type exists per Kind.
type Payload interface {
	Kind() Kind
}

// DeepFocusPayload asks the user to stay off a set of apps for a duration.
type DeepFocusPayload struct {
	TargetMinutes int      `json:"target_minutes"`
	BlockedApps   []string `json:"blocked_apps"`
}

func (DeepFocusPayload) Kind() Kind { return KindDeepFocus }

// HealthGoalPayload tracks a numeric health metric against a daily target.
type HealthGoalPayload struct {
	Metric string `json:"metric"` // "steps", "active_minutes", "water_ml"
	Target int    `json:"target"`
}

func (HealthGoalPayload) Kind() Kind { return KindHealthGoal }

// AiSnapPayload asks for a photo that an on-device model validates against
// a prompt. Validation itself happens outside this engine.
type AiSnapPayload struct {
	Prompt string `json:"prompt"`
}

func (AiSnapPayload) Kind() Kind { return KindAiSnap }

// ExternalIntegrationPayload delegates completion to a third-party provider.
type ExternalIntegrationPayload struct {
	Provider string `json:"provider"`
	Ref      string `json:"ref"`
}

func (ExternalIntegrationPayload) Kind() Kind { return KindExternalIntegration }

// DecodePayload parses quest_json according to the record's integration id.
func (r *Record) DecodePayload() (Payload, error) {
	switch r.IntegrationID {
	case KindDeepFocus:
		var p DeepFocusPayload
		if err := json.Unmarshal([]byte(r.QuestJSON), &p); err != nil {
			return nil, fmt.Errorf("decoding deep focus payload for quest %q: %w", r.ID, err)
		}
		return p, nil
	case KindHealthGoal:
		var p HealthGoalPayload
		if err := json.Unmarshal([]byte(r.QuestJSON), &p); err != nil {
			return nil, fmt.Errorf("decoding health goal payload for quest %q: %w", r.ID, err)
		}
		return p, nil
	case KindAiSnap:
		var p AiSnapPayload
		if err := json.Unmarshal([]byte(r.QuestJSON), &p); err != nil {
			return nil, fmt.Errorf("decoding ai snap payload for quest %q: %w", r.ID, err)
		}
		return p, nil
	case KindExternalIntegration:
		var p ExternalIntegrationPayload
		if err := json.Unmarshal([]byte(r.QuestJSON), &p); err != nil {
			return nil, fmt.Errorf("decoding integration payload for quest %q: %w", r.ID, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("quest %q has unknown integration %q", r.ID, r.IntegrationID)
	}
}
