package tui

import (
	"mailtally/internal/model"
	"mailtally/internal/syncer"
)

// Async message types for Bubble Tea commands.

type authURLMsg string

type syncProgressMsg syncer.Progress

type syncCompleteMsg struct {
	summary model.RunSummary
	err     error
}

type reportLoadedMsg struct {
	senders []model.SenderCount
	err     error
}

type statusMsg string
