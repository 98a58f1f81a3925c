package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and gradual rollout.
// Hub installations live on classroom devices that update slowly and sync
// over unreliable links, so risky sync behavior ships dark and is rolled
// out by device percentage instead of all at once.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	deviceOverrides map[string]map[string]bool // deviceID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Devices are assigned based on hash of their ID
	RolloutPercent int

	// Release channel targeting (e.g., "stable", "beta")
	// Empty means all channels
	TargetChannels []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	// A/B test variant (for experiments)
	Variants []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	DeviceID string // installation identity, matches GATEWAY_DEVICE_ID
	Channel  string // release channel (e.g., "stable", "beta")
	IsAdmin  bool   // admin tooling gets everything
}

// Predefined feature flag names.
const (
	// === Sync Features ===
	FeatureSyncPush           = "sync.push"            // push local edits to the gateway
	FeatureSyncStaleDetection = "sync.stale_detection" // flag classes that stopped syncing

	// === Store Features ===
	FeatureStoreCompaction = "store.compaction" // nightly store compaction

	// === Cache Features ===
	FeatureCacheClasses          = "cache.classes"            // Redis-backed class cache
	FeatureCacheInvalidateOnPull = "cache.invalidate_on_pull" // drop cached classes on background pull

	// === Experimental Features ===
	FeatureExperimentalDeltaSync    = "experimental.delta_sync"    // per-field merge instead of whole-document wins
	FeatureExperimentalMultiGateway = "experimental.multi_gateway" // secondary gateway failover
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		deviceOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Sync features - the point of the hub, enabled by default
	ff.features[FeatureSyncPush] = &Feature{
		Name:           FeatureSyncPush,
		Description:    "Push local class edits to the sync gateway",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSyncStaleDetection] = &Feature{
		Name:           FeatureSyncStaleDetection,
		Description:    "Flag classes that have not synced for too long",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Store maintenance
	ff.features[FeatureStoreCompaction] = &Feature{
		Name:           FeatureStoreCompaction,
		Description:    "Nightly compaction of the document store",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Cache features
	ff.features[FeatureCacheClasses] = &Feature{
		Name:           FeatureCacheClasses,
		Description:    "Cache class records in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCacheInvalidateOnPull] = &Feature{
		Name:           FeatureCacheInvalidateOnPull,
		Description:    "Invalidate cached classes when background sync pulls changes",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Experimental features - disabled by default
	ff.features[FeatureExperimentalDeltaSync] = &Feature{
		Name:           FeatureExperimentalDeltaSync,
		Description:    "Per-field conflict merge instead of newest-document-wins",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureExperimentalMultiGateway] = &Feature{
		Name:           FeatureExperimentalMultiGateway,
		Description:    "Fail over to a secondary sync gateway",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_SYNC_PUSH=false
// Example: FEATURE_STORE_COMPACTION=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "sync.stale_detection" -> "FEATURE_SYNC_STALE_DETECTION"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check device overrides first
	if ctx != nil && ctx.DeviceID != "" {
		if overrides, ok := ff.deviceOverrides[ctx.DeviceID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin tooling gets all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check channel targeting
	if len(feature.TargetChannels) > 0 && ctx != nil && ctx.Channel != "" {
		channelMatch := false
		for _, c := range feature.TargetChannels {
			if c == ctx.Channel {
				channelMatch = true
				break
			}
		}
		if !channelMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.DeviceID != "" {
		return ff.isInRollout(ctx.DeviceID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a device is in the rollout percentage.
// Uses consistent hashing so devices stay in their bucket.
func (ff *FeatureFlags) isInRollout(deviceID, featureName string, percent int) bool {
	// Create a consistent hash for this device+feature combination
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(deviceID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// GetVariant returns the A/B test variant for a device.
// Returns empty string if no variants defined or feature disabled.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !ff.IsEnabled(featureName, ctx) {
		return ""
	}

	if len(feature.Variants) == 0 || ctx == nil {
		return ""
	}

	// Use consistent hashing to assign variant
	h := fnv.New32a()
	h.Write([]byte(featureName + "_variant"))
	h.Write([]byte(ctx.DeviceID))
	hash := h.Sum32()

	variantIndex := int(hash % uint32(len(feature.Variants)))
	return feature.Variants[variantIndex]
}

// SetDeviceOverride sets a feature override for a specific device.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetDeviceOverride(deviceID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.deviceOverrides[deviceID]; !ok {
		ff.deviceOverrides[deviceID] = make(map[string]bool)
	}
	ff.deviceOverrides[deviceID][featureName] = enabled
}

// ClearDeviceOverrides removes all overrides for a device.
func (ff *FeatureFlags) ClearDeviceOverrides(deviceID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.deviceOverrides, deviceID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// MaintenanceEnabled checks if any store maintenance job should run.
func (ff *FeatureFlags) MaintenanceEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureStoreCompaction, ctx) ||
		ff.IsEnabled(FeatureSyncStaleDetection, ctx)
}

// CachingEnabled checks if the Redis class cache should be wired in.
func (ff *FeatureFlags) CachingEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureCacheClasses, ctx)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
