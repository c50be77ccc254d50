package commands

import "github.com/charmbracelet/lipgloss"

// Output formatting
const (
	TimestampFormat           = "2006-01-02 15:04:05"
	DefaultHistoryLimit       = 20
	DefaultHistorySearchLimit = 50
	MaxHistoryAnalysisRecords = 1000
	defaultEditor             = "vi"
)

// Error messages
const (
	ErrDoctorServiceUnavailable = "doctor service unavailable"
	ErrHistoryStoreUnavailable  = "history store unavailable"
	ErrCacheStoreUnavailable    = "cache store unavailable"
	ErrKeyRequired              = "--key is required"
	ErrQueryRequired            = "--query required"
)

// Success messages
const (
	MsgConfigurationValid       = "Configuration valid"
	MsgNoDifferencesFromDefault = "No differences from default configuration."
	MsgNoHistoryRecorded        = "No history recorded yet."
	MsgNoCachedResponses        = "No cached suggestions."
	MsgNoHostsConfigured        = "No hosts configured."
)

var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)
