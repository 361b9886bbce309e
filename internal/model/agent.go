package model

import "time"

type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	Module       string    `json:"module"`
	Capabilities []string  `json:"capabilities"`
	IsActive     bool      `json:"is_active"`
	Model        string    `json:"model"`
	MaxTokens    int       `json:"max_tokens"`
	Temperature  float64   `json:"temperature"`
	CreatedAt    time.Time `json:"created_at"`
}
