package config

import (
	"fmt"
	"sort"
)

// StageConfig declares one pipeline stage's payload contract: the keys it
// requires from its predecessors and the keys it guarantees to have written
// when it returns. Contracts are validated at pipeline construction, not
// checked by duck-typed access at runtime.
type StageConfig struct {
	// Identity
	Name       string `json:"name"`
	StageOrder int    `json:"stage_order"`

	// Payload contract
	RequiredPayloadKeys   []string `json:"required_payload_keys,omitempty"`
	GuaranteedPayloadKeys []string `json:"guaranteed_payload_keys,omitempty"`

	// Capability flags
	HasLLM   bool `json:"has_llm"`   // Stage may call the generative model
	HasStore bool `json:"has_store"` // Stage reads or writes the persistent store
}

// Validate validates the stage configuration.
func (c *StageConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("StageConfig.Name is required")
	}
	return nil
}

// PipelineConfig defines the fixed linear sequence of stages.
type PipelineConfig struct {
	Name   string         `json:"name"`
	Stages []*StageConfig `json:"stages"`
}

// NewPipelineConfig creates an empty pipeline config.
func NewPipelineConfig(name string) *PipelineConfig {
	return &PipelineConfig{Name: name, Stages: make([]*StageConfig, 0)}
}

// AddStage appends a stage to the pipeline.
func (p *PipelineConfig) AddStage(stage *StageConfig) error {
	if err := stage.Validate(); err != nil {
		return err
	}
	p.Stages = append(p.Stages, stage)
	return nil
}

// Validate checks stage uniqueness and the payload contract chain: every key
// a stage requires must be guaranteed by intake or an earlier stage.
func (p *PipelineConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("PipelineConfig.Name is required")
	}

	sort.Slice(p.Stages, func(i, j int) bool {
		return p.Stages[i].StageOrder < p.Stages[j].StageOrder
	})

	names := make(map[string]bool)
	for _, stage := range p.Stages {
		if err := stage.Validate(); err != nil {
			return err
		}
		if names[stage.Name] {
			return fmt.Errorf("duplicate stage name: %s", stage.Name)
		}
		names[stage.Name] = true
	}

	available := make(map[string]bool)
	for _, key := range IntakePayloadKeys {
		available[key] = true
	}
	for _, stage := range p.Stages {
		for _, key := range stage.RequiredPayloadKeys {
			if !available[key] {
				return fmt.Errorf("stage '%s' requires payload key '%s' that no earlier stage guarantees", stage.Name, key)
			}
		}
		for _, key := range stage.GuaranteedPayloadKeys {
			available[key] = true
		}
	}

	return nil
}

// GetStage gets a stage config by name.
func (p *PipelineConfig) GetStage(name string) *StageConfig {
	for _, stage := range p.Stages {
		if stage.Name == name {
			return stage
		}
	}
	return nil
}

// GetStageOrder returns the ordered list of stage names.
func (p *PipelineConfig) GetStageOrder() []string {
	order := make([]string, len(p.Stages))
	for i, stage := range p.Stages {
		order[i] = stage.Name
	}
	return order
}

// IntakePayloadKeys are the keys the intake boundary places on the initial
// envelope before the first stage runs.
var IntakePayloadKeys = []string{"state", "profile", "documents", "extracted", "query", "email"}

// DefaultPipelineConfig returns the rental-application pipeline: six stages
// in fixed linear order, each declaring its payload contract.
func DefaultPipelineConfig() *PipelineConfig {
	p := NewPipelineConfig("rental_application")
	p.Stages = []*StageConfig{
		{
			Name:                  "intent",
			StageOrder:            1,
			RequiredPayloadKeys:   []string{"state", "profile"},
			GuaranteedPayloadKeys: []string{"intent", "slots"},
		},
		{
			Name:                  "canonical",
			StageOrder:            2,
			RequiredPayloadKeys:   []string{"state", "profile"},
			GuaranteedPayloadKeys: []string{"state", "profile"},
		},
		{
			Name:                  "compliance",
			StageOrder:            3,
			RequiredPayloadKeys:   []string{"state", "profile"},
			GuaranteedPayloadKeys: []string{"missing", "compliance"},
			HasStore:              true,
		},
		{
			Name:                  "guardrails",
			StageOrder:            4,
			RequiredPayloadKeys:   []string{"profile"},
			GuaranteedPayloadKeys: []string{"guardrails_findings"},
			HasStore:              true,
		},
		{
			Name:                  "rag",
			StageOrder:            5,
			RequiredPayloadKeys:   []string{"state"},
			GuaranteedPayloadKeys: []string{"kb", "memory_snippet", "context_used"},
		},
		{
			Name:                  "response",
			StageOrder:            6,
			RequiredPayloadKeys:   []string{"state", "profile", "missing", "compliance", "guardrails_findings", "kb"},
			GuaranteedPayloadKeys: []string{"final_response"},
			HasLLM:                true,
			HasStore:              true,
		},
	}
	return p
}
