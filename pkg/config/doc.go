// Package config provides the validated configuration for reservoir's pooling,
// memory pressure and monitoring components.
//
// # Key Features
//
// - Config: one structure with a typed section per component
// - Explicit defaults through Default(); profiles start from these
// - Validation once at construction; invalid values are rejected, never clamped
// - Environment variable substitution with ${VAR_NAME} syntax
// - Unknown YAML keys are rejected
//
// # Usage
//
// ## Loading From YAML
//
//	cfg, err := config.Load("reservoir.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Keys missing from the file keep their default value. A size_categories map
// in the file replaces the default tiers rather than merging with them.
//
// ## Environment Variable Substitution
//
//	# reservoir.yaml
//	memory:
//	  gc_strategy: ${RESERVOIR_GC_STRATEGY}
//	  limit_bytes: ${RESERVOIR_MEMORY_LIMIT}
//
// # Buffer Size Categories
//
// Categories map a name to a byte capacity. Each capacity must be positive and
// at most 1MB. SortedCategories returns them ascending, which is the order the
// buffer pool uses to pick the smallest tier that fits a request.
package config
