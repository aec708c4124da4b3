package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with per-member gradual rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Members are assigned based on hash of their ID
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// === Read Side ===
	FeatureCacheLocal  = "cache.local"  // In-process LRU tier of the progress cache
	FeatureCacheShared = "cache.shared" // Redis tier of the progress cache

	// === Events ===
	FeatureEventsRemote = "events.remote" // Fan events out to other instances over Redis

	// === Commands ===
	FeatureForceOverride = "completions.force" // Accept force=true to bypass the cool-down

	// === Jobs ===
	FeatureReconcileJob = "jobs.reconcile" // Nightly profile reconciliation
)

// LoadFeatureFlags loads feature flags, applying overrides found through
// lookup. A nil lookup reads the process environment.
func LoadFeatureFlags(lookup func(string) (string, bool)) *FeatureFlags {
	if lookup == nil {
		lookup = lookupEnv
	}
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	ff.loadFromEnvironment(lookup)
	return ff
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureCacheLocal, Description: "Cache progress views in process", Enabled: true, RolloutPercent: 100},
		{Name: FeatureCacheShared, Description: "Cache progress views in Redis", Enabled: true, RolloutPercent: 100},
		{Name: FeatureEventsRemote, Description: "Publish events to other instances", Enabled: true, RolloutPercent: 100},
		{Name: FeatureForceOverride, Description: "Allow administrative cool-down overrides", Enabled: true, RolloutPercent: 100},
		{Name: FeatureReconcileJob, Description: "Repair drifted profiles on a schedule", Enabled: true, RolloutPercent: 100},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature flag overrides.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_CACHE_SHARED=false
// Example: FEATURE_COMPLETIONS_FORCE=10 (10% rollout)
func (ff *FeatureFlags) loadFromEnvironment(lookup func(string) (string, bool)) {
	for name, feature := range ff.features {
		val, ok := lookup(featureNameToEnvKey(name))
		if !ok || val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "cache.shared" -> "FEATURE_CACHE_SHARED"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is on globally. Partially rolled out
// features count as on.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled && feature.RolloutPercent > 0
}

// IsEnabledFor checks if a feature is enabled for one member.
func (ff *FeatureFlags) IsEnabledFor(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.userOverrides[userID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	return isInRollout(userID, featureName, feature.RolloutPercent)
}

// isInRollout determines if a member is in the rollout percentage.
// Uses consistent hashing so members stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific member.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a member.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
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

// Snapshot returns a copy of all features, sorted by name.
func (ff *FeatureFlags) Snapshot() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
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
