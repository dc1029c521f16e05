package workers

import "inmobiscrap/models"

// LogFunc mirrors worker activity into the scrape_logs table.
type LogFunc func(level models.LogLevel, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, message string) {}
