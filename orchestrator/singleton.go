package orchestrator

import "sync"

// Global service instance and initialization guard.
var (
	globalService *Service
	globalOnce    sync.Once
)

// Global returns the singleton service instance.
// Creates a default service on first call if not already initialized.
func Global() *Service {
	globalOnce.Do(func() {
		globalService = NewService(nil, nil, nil)
	})
	return globalService
}

// InitGlobal initializes the global service with a custom instance.
// Must be called before any call to Global() to take effect.
// Safe for concurrent use but only the first call has any effect.
func InitGlobal(s *Service) {
	globalOnce.Do(func() {
		globalService = s
	})
}

// ResetGlobal resets the global service for testing purposes.
// This is NOT thread-safe and should only be used in tests.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalService = nil
}
