package main

import "sita/internal/model"

// defaultAgents is the catalog seeded by migrate and by the in-memory store.
var defaultAgents = []model.Agent{
	{
		Name:         "habit_coach",
		DisplayName:  "Habit Coach",
		Description:  "Suggests small, concrete habits and reviews streaks.",
		Module:       "wellness",
		Capabilities: []string{"habit_plan", "streak_review"},
		IsActive:     true,
		MaxTokens:    1024,
		Temperature:  0.7,
	},
	{
		Name:         "planner",
		DisplayName:  "Planner",
		Description:  "Breaks goals into ordered tasks with estimates.",
		Module:       "productivity",
		Capabilities: []string{"plan", "prioritize"},
		IsActive:     true,
		MaxTokens:    2048,
		Temperature:  0.4,
	},
	{
		Name:         "writer",
		DisplayName:  "Writer",
		Description:  "Drafts and summarizes short texts.",
		Module:       "content",
		Capabilities: []string{"draft", "summarize", "review"},
		IsActive:     true,
		MaxTokens:    2048,
		Temperature:  0.7,
	},
	{
		Name:         "budget_analyst",
		DisplayName:  "Budget Analyst",
		Description:  "Reads spending summaries and flags categories to watch.",
		Module:       "finance",
		Capabilities: []string{"categorize", "summarize"},
		IsActive:     true,
		MaxTokens:    1024,
		Temperature:  0.2,
	},
}
